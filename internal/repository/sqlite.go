package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"intercept/internal/exchange"
	"intercept/internal/interr"
	"intercept/internal/rules"
)

// SQLiteStore is the default Repository implementation: pure-Go,
// WAL-mode, one table per entity, nested structures JSON-marshaled into
// TEXT columns.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, interr.New("repository.NewSQLiteStore", interr.KindInternal, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, interr.New("repository.NewSQLiteStore", interr.KindInternal, err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("sqlite repository initialized", "component", "repository", "path", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		method TEXT NOT NULL,
		host TEXT NOT NULL,
		url TEXT NOT NULL,
		request_headers TEXT,
		request_body BLOB,
		content_type TEXT,
		response_status INTEGER,
		response_headers TEXT,
		response_body BLOB,
		response_content_type TEXT,
		elapsed_ms INTEGER,
		intercepted INTEGER NOT NULL DEFAULT 0,
		modified INTEGER NOT NULL DEFAULT 0,
		is_tunnel INTEGER NOT NULL DEFAULT 0,
		tag TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exchanges_method ON exchanges(method);
	CREATE INDEX IF NOT EXISTS idx_exchanges_host ON exchanges(host);
	CREATE INDEX IF NOT EXISTS idx_exchanges_status ON exchanges(response_status);
	CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at);

	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		scope TEXT NOT NULL,
		match_type TEXT NOT NULL,
		match_header TEXT,
		pattern TEXT,
		is_regex INTEGER NOT NULL DEFAULT 0,
		action TEXT NOT NULL,
		action_name TEXT,
		action_target TEXT,
		action_value TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS attacks (
		id TEXT PRIMARY KEY,
		name TEXT,
		method TEXT,
		url_template TEXT,
		header_templates TEXT,
		body_template TEXT,
		positions TEXT,
		mode TEXT,
		payload_sets TEXT,
		concurrency INTEGER,
		delay_ms INTEGER,
		follow_redirects INTEGER,
		timeout_ms INTEGER,
		total_requests INTEGER,
		completed_requests INTEGER,
		status TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attack_results (
		id TEXT PRIMARY KEY,
		attack_id TEXT NOT NULL,
		payloads TEXT,
		url TEXT,
		status INTEGER,
		length INTEGER,
		elapsed_ms INTEGER,
		body_sample BLOB,
		error TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attack_results_attack ON attack_results(attack_id);

	CREATE TABLE IF NOT EXISTS crawl_sessions (
		id TEXT PRIMARY KEY,
		seeds TEXT,
		max_depth INTEGER,
		max_pages INTEGER,
		threads INTEGER,
		delay_ms INTEGER,
		include_patterns TEXT,
		exclude_patterns TEXT,
		respect_robots INTEGER,
		follow_external INTEGER,
		pages_crawled INTEGER,
		pages_queued INTEGER,
		error_count INTEGER,
		status TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS crawl_urls (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		url TEXT NOT NULL,
		depth INTEGER,
		source_url TEXT,
		status TEXT,
		status_code INTEGER,
		title TEXT,
		link_count INTEGER,
		form_count INTEGER,
		error TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_crawl_urls_session_url ON crawl_urls(session_id, url);
	CREATE INDEX IF NOT EXISTS idx_crawl_urls_status ON crawl_urls(status);

	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		urls TEXT,
		enabled_checks TEXT,
		total_checks INTEGER,
		completed_checks INTEGER,
		issues_found INTEGER,
		status TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		scan_id TEXT NOT NULL,
		check_id TEXT,
		type TEXT,
		severity TEXT,
		confidence TEXT,
		url TEXT,
		method TEXT,
		parameter TEXT,
		location TEXT,
		evidence TEXT,
		payload TEXT,
		title TEXT,
		description TEXT,
		remediation TEXT,
		status TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_issues_scan ON issues(scan_id);
	CREATE INDEX IF NOT EXISTS idx_issues_severity ON issues(severity);

	CREATE TABLE IF NOT EXISTS token_analyses (
		id TEXT PRIMARY KEY,
		name TEXT,
		extraction_kind TEXT,
		extraction_key TEXT,
		target_count INTEGER,
		samples TEXT,
		status TEXT,
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return interr.New("repository.migrate", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- exchanges ---

func (s *SQLiteStore) PutExchange(ctx context.Context, ex *exchange.Exchange) error {
	reqHeaders, _ := json.Marshal(ex.Request.Headers)
	var respStatus sql.NullInt64
	var respHeaders, respBody, respContentType sql.NullString
	var elapsed sql.NullInt64
	if ex.Response != nil {
		respStatus = sql.NullInt64{Int64: int64(ex.Response.Status), Valid: true}
		h, _ := json.Marshal(ex.Response.Headers)
		respHeaders = sql.NullString{String: string(h), Valid: true}
		respContentType = sql.NullString{String: ex.Response.ContentType, Valid: true}
		elapsed = sql.NullInt64{Int64: ex.Response.ElapsedMs, Valid: true}
	}
	var respBodyBytes []byte
	if ex.Response != nil {
		respBodyBytes = ex.Response.Body
	}
	_ = respBody

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO exchanges
		(id, method, host, url, request_headers, request_body, content_type,
		 response_status, response_headers, response_body, response_content_type, elapsed_ms,
		 intercepted, modified, is_tunnel, tag, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ex.ID, ex.Request.Method, ex.Request.Host, ex.Request.URL, string(reqHeaders), ex.Request.Body, ex.Request.ContentType,
		respStatus, respHeaders, respBodyBytes, respContentType, elapsed,
		boolToInt(ex.Intercepted), boolToInt(ex.Modified), boolToInt(ex.IsTunnel), ex.Tag, ex.CreatedAt,
	)
	if err != nil {
		return interr.New("repository.PutExchange", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateExchange(ctx context.Context, ex *exchange.Exchange) error {
	return s.PutExchange(ctx, ex)
}

func (s *SQLiteStore) GetExchange(ctx context.Context, id string) (*exchange.Exchange, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, method, host, url, request_headers, request_body, content_type,
		response_status, response_headers, response_body, response_content_type, elapsed_ms,
		intercepted, modified, is_tunnel, tag, created_at FROM exchanges WHERE id = ?`, id)
	ex, err := scanExchange(row)
	if err == sql.ErrNoRows {
		return nil, interr.New("repository.GetExchange", interr.KindNotFound, err)
	}
	if err != nil {
		return nil, interr.New("repository.GetExchange", interr.KindInternal, err)
	}
	return ex, nil
}

func (s *SQLiteStore) ListExchanges(ctx context.Context, filter ExchangeFilter, page Page) ([]*exchange.Exchange, error) {
	query := `SELECT id, method, host, url, request_headers, request_body, content_type,
		response_status, response_headers, response_body, response_content_type, elapsed_ms,
		intercepted, modified, is_tunnel, tag, created_at FROM exchanges WHERE 1=1`
	var args []interface{}
	if filter.Method != "" {
		query += " AND method = ?"
		args = append(args, filter.Method)
	}
	if filter.Host != "" {
		query += " AND host = ?"
		args = append(args, filter.Host)
	}
	if filter.Status != 0 {
		query += " AND response_status = ?"
		args = append(args, filter.Status)
	}
	if filter.Tag != "" {
		query += " AND tag = ?"
		args = append(args, filter.Tag)
	}
	if filter.Search != "" {
		query += " AND url LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}
	query += " ORDER BY created_at DESC"
	query, args = applyPage(query, args, page)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, interr.New("repository.ListExchanges", interr.KindInternal, err)
	}
	defer rows.Close()

	var out []*exchange.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, interr.New("repository.ListExchanges", interr.KindInternal, err)
		}
		out = append(out, ex)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteExchange(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM exchanges WHERE id = ?", id)
	if err != nil {
		return interr.New("repository.DeleteExchange", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) ClearExchanges(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM exchanges")
	if err != nil {
		return interr.New("repository.ClearExchanges", interr.KindInternal, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanExchange(row scanner) (*exchange.Exchange, error) {
	var ex exchange.Exchange
	var reqHeaders string
	var respStatus, elapsed sql.NullInt64
	var respHeaders, respContentType, tag sql.NullString
	var respBody []byte
	var intercepted, modified, isTunnel int

	if err := row.Scan(
		&ex.ID, &ex.Request.Method, &ex.Request.Host, &ex.Request.URL, &reqHeaders, &ex.Request.Body, &ex.Request.ContentType,
		&respStatus, &respHeaders, &respBody, &respContentType, &elapsed,
		&intercepted, &modified, &isTunnel, &tag, &ex.CreatedAt,
	); err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(reqHeaders), &ex.Request.Headers)
	ex.Intercepted = intercepted != 0
	ex.Modified = modified != 0
	ex.IsTunnel = isTunnel != 0
	ex.Tag = tag.String

	if respStatus.Valid {
		ex.Response = &exchange.Response{
			Status:      int(respStatus.Int64),
			Body:        respBody,
			ContentType: respContentType.String,
			ElapsedMs:   elapsed.Int64,
		}
		_ = json.Unmarshal([]byte(respHeaders.String), &ex.Response.Headers)
	}
	return &ex, nil
}

// --- rules ---

func (s *SQLiteStore) PutRule(ctx context.Context, r *rules.Rule) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO rules
		(id, name, scope, match_type, match_header, pattern, is_regex, action, action_name, action_target, action_value, priority, enabled)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Name, r.Scope, r.MatchType, r.MatchHeader, r.Pattern, boolToInt(r.IsRegex),
		r.Action, r.ActionName, r.ActionTarget, r.ActionValue, r.Priority, boolToInt(r.Enabled))
	if err != nil {
		return interr.New("repository.PutRule", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRule(ctx context.Context, r *rules.Rule) error { return s.PutRule(ctx, r) }

func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return interr.New("repository.DeleteRule", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) ListRules(ctx context.Context) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, scope, match_type, match_header, pattern, is_regex, action, action_name, action_target, action_value, priority, enabled FROM rules ORDER BY priority DESC`)
	if err != nil {
		return nil, interr.New("repository.ListRules", interr.KindInternal, err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var r rules.Rule
		var isRegex, enabled int
		if err := rows.Scan(&r.ID, &r.Name, &r.Scope, &r.MatchType, &r.MatchHeader, &r.Pattern, &isRegex, &r.Action, &r.ActionName, &r.ActionTarget, &r.ActionValue, &r.Priority, &enabled); err != nil {
			return nil, interr.New("repository.ListRules", interr.KindInternal, err)
		}
		r.IsRegex = isRegex != 0
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, nil
}

// --- attacks ---

func (s *SQLiteStore) PutAttack(ctx context.Context, a *Attack) error {
	headerTemplates, _ := json.Marshal(a.HeaderTemplates)
	positions, _ := json.Marshal(a.Positions)
	payloadSets, _ := json.Marshal(a.PayloadSets)
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO attacks
		(id, name, method, url_template, header_templates, body_template, positions, mode, payload_sets,
		 concurrency, delay_ms, follow_redirects, timeout_ms, total_requests, completed_requests, status, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Method, a.URLTemplate, string(headerTemplates), a.BodyTemplate, string(positions), a.Mode, string(payloadSets),
		a.Concurrency, a.DelayMs, boolToInt(a.FollowRedirects), a.TimeoutMs, a.TotalRequests, a.CompletedRequests, a.Status, a.CreatedAt)
	if err != nil {
		return interr.New("repository.PutAttack", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateAttack(ctx context.Context, a *Attack) error { return s.PutAttack(ctx, a) }

func (s *SQLiteStore) GetAttack(ctx context.Context, id string) (*Attack, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, method, url_template, header_templates, body_template, positions, mode, payload_sets,
		concurrency, delay_ms, follow_redirects, timeout_ms, total_requests, completed_requests, status, created_at FROM attacks WHERE id = ?`, id)
	a, err := scanAttack(row)
	if err == sql.ErrNoRows {
		return nil, interr.New("repository.GetAttack", interr.KindNotFound, err)
	}
	if err != nil {
		return nil, interr.New("repository.GetAttack", interr.KindInternal, err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAttacks(ctx context.Context, page Page) ([]*Attack, error) {
	query, args := applyPage(`SELECT id, name, method, url_template, header_templates, body_template, positions, mode, payload_sets,
		concurrency, delay_ms, follow_redirects, timeout_ms, total_requests, completed_requests, status, created_at
		FROM attacks ORDER BY created_at DESC`, nil, page)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, interr.New("repository.ListAttacks", interr.KindInternal, err)
	}
	defer rows.Close()
	var out []*Attack
	for rows.Next() {
		a, err := scanAttack(rows)
		if err != nil {
			return nil, interr.New("repository.ListAttacks", interr.KindInternal, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteAttack(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM attacks WHERE id = ?", id)
	if err != nil {
		return interr.New("repository.DeleteAttack", interr.KindInternal, err)
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM attack_results WHERE attack_id = ?", id)
	return err
}

func scanAttack(row scanner) (*Attack, error) {
	var a Attack
	var headerTemplates, positions, payloadSets string
	var followRedirects int
	if err := row.Scan(&a.ID, &a.Name, &a.Method, &a.URLTemplate, &headerTemplates, &a.BodyTemplate, &positions, &a.Mode, &payloadSets,
		&a.Concurrency, &a.DelayMs, &followRedirects, &a.TimeoutMs, &a.TotalRequests, &a.CompletedRequests, &a.Status, &a.CreatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(headerTemplates), &a.HeaderTemplates)
	_ = json.Unmarshal([]byte(positions), &a.Positions)
	_ = json.Unmarshal([]byte(payloadSets), &a.PayloadSets)
	a.FollowRedirects = followRedirects != 0
	return &a, nil
}

func (s *SQLiteStore) PutAttackResults(ctx context.Context, results []*AttackResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return interr.New("repository.PutAttackResults", interr.KindInternal, err)
	}
	for _, r := range results {
		payloads, _ := json.Marshal(r.Payloads)
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO attack_results
			(id, attack_id, payloads, url, status, length, elapsed_ms, body_sample, error, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			r.ID, r.AttackID, string(payloads), r.URL, r.Status, r.Length, r.ElapsedMs, r.BodySample, r.Error, r.CreatedAt); err != nil {
			tx.Rollback()
			return interr.New("repository.PutAttackResults", interr.KindInternal, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return interr.New("repository.PutAttackResults", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) ListAttackResults(ctx context.Context, attackID string, page Page) ([]*AttackResult, error) {
	query, args := applyPage(`SELECT id, attack_id, payloads, url, status, length, elapsed_ms, body_sample, error, created_at
		FROM attack_results WHERE attack_id = ? ORDER BY created_at ASC`, []interface{}{attackID}, page)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, interr.New("repository.ListAttackResults", interr.KindInternal, err)
	}
	defer rows.Close()
	var out []*AttackResult
	for rows.Next() {
		var r AttackResult
		var payloads string
		var errStr sql.NullString
		if err := rows.Scan(&r.ID, &r.AttackID, &payloads, &r.URL, &r.Status, &r.Length, &r.ElapsedMs, &r.BodySample, &errStr, &r.CreatedAt); err != nil {
			return nil, interr.New("repository.ListAttackResults", interr.KindInternal, err)
		}
		_ = json.Unmarshal([]byte(payloads), &r.Payloads)
		r.Error = errStr.String
		out = append(out, &r)
	}
	return out, nil
}

// --- crawl sessions / urls ---

func (s *SQLiteStore) PutCrawlSession(ctx context.Context, cs *CrawlSession) error {
	seeds, _ := json.Marshal(cs.Seeds)
	include, _ := json.Marshal(cs.IncludePatterns)
	exclude, _ := json.Marshal(cs.ExcludePatterns)
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO crawl_sessions
		(id, seeds, max_depth, max_pages, threads, delay_ms, include_patterns, exclude_patterns, respect_robots, follow_external,
		 pages_crawled, pages_queued, error_count, status, created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		cs.ID, string(seeds), cs.MaxDepth, cs.MaxPages, cs.Threads, cs.DelayMs, string(include), string(exclude),
		boolToInt(cs.RespectRobots), boolToInt(cs.FollowExternal), cs.PagesCrawled, cs.PagesQueued, cs.ErrorCount, cs.Status, cs.CreatedAt)
	if err != nil {
		return interr.New("repository.PutCrawlSession", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateCrawlSession(ctx context.Context, cs *CrawlSession) error {
	return s.PutCrawlSession(ctx, cs)
}

func (s *SQLiteStore) GetCrawlSession(ctx context.Context, id string) (*CrawlSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, seeds, max_depth, max_pages, threads, delay_ms, include_patterns, exclude_patterns,
		respect_robots, follow_external, pages_crawled, pages_queued, error_count, status, created_at FROM crawl_sessions WHERE id = ?`, id)
	cs, err := scanCrawlSession(row)
	if err == sql.ErrNoRows {
		return nil, interr.New("repository.GetCrawlSession", interr.KindNotFound, err)
	}
	if err != nil {
		return nil, interr.New("repository.GetCrawlSession", interr.KindInternal, err)
	}
	return cs, nil
}

func (s *SQLiteStore) ListCrawlSessions(ctx context.Context, page Page) ([]*CrawlSession, error) {
	query, args := applyPage(`SELECT id, seeds, max_depth, max_pages, threads, delay_ms, include_patterns, exclude_patterns,
		respect_robots, follow_external, pages_crawled, pages_queued, error_count, status, created_at
		FROM crawl_sessions ORDER BY created_at DESC`, nil, page)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, interr.New("repository.ListCrawlSessions", interr.KindInternal, err)
	}
	defer rows.Close()
	var out []*CrawlSession
	for rows.Next() {
		cs, err := scanCrawlSession(rows)
		if err != nil {
			return nil, interr.New("repository.ListCrawlSessions", interr.KindInternal, err)
		}
		out = append(out, cs)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteCrawlSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM crawl_sessions WHERE id = ?", id)
	if err != nil {
		return interr.New("repository.DeleteCrawlSession", interr.KindInternal, err)
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM crawl_urls WHERE session_id = ?", id)
	return err
}

func scanCrawlSession(row scanner) (*CrawlSession, error) {
	var cs CrawlSession
	var seeds, include, exclude string
	var respectRobots, followExternal int
	if err := row.Scan(&cs.ID, &seeds, &cs.MaxDepth, &cs.MaxPages, &cs.Threads, &cs.DelayMs, &include, &exclude,
		&respectRobots, &followExternal, &cs.PagesCrawled, &cs.PagesQueued, &cs.ErrorCount, &cs.Status, &cs.CreatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(seeds), &cs.Seeds)
	_ = json.Unmarshal([]byte(include), &cs.IncludePatterns)
	_ = json.Unmarshal([]byte(exclude), &cs.ExcludePatterns)
	cs.RespectRobots = respectRobots != 0
	cs.FollowExternal = followExternal != 0
	return &cs, nil
}

func (s *SQLiteStore) PutCrawlURLs(ctx context.Context, urls []*CrawlURL) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return interr.New("repository.PutCrawlURLs", interr.KindInternal, err)
	}
	for _, u := range urls {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO crawl_urls
			(id, session_id, url, depth, source_url, status, status_code, title, link_count, form_count, error, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			u.ID, u.SessionID, u.URL, u.Depth, u.SourceURL, u.Status, u.StatusCode, u.Title, u.LinkCount, u.FormCount, u.Error, u.CreatedAt); err != nil {
			tx.Rollback()
			return interr.New("repository.PutCrawlURLs", interr.KindInternal, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return interr.New("repository.PutCrawlURLs", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateCrawlURL(ctx context.Context, u *CrawlURL) error {
	_, err := s.db.ExecContext(ctx, `UPDATE crawl_urls SET status=?, status_code=?, title=?, link_count=?, form_count=?, error=? WHERE id=?`,
		u.Status, u.StatusCode, u.Title, u.LinkCount, u.FormCount, u.Error, u.ID)
	if err != nil {
		return interr.New("repository.UpdateCrawlURL", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) ListCrawlURLs(ctx context.Context, sessionID string, status string, page Page) ([]*CrawlURL, error) {
	query := `SELECT id, session_id, url, depth, source_url, status, status_code, title, link_count, form_count, error, created_at
		FROM crawl_urls WHERE session_id = ?`
	args := []interface{}{sessionID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY depth ASC, created_at ASC"
	query, args = applyPage(query, args, page)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, interr.New("repository.ListCrawlURLs", interr.KindInternal, err)
	}
	defer rows.Close()
	var out []*CrawlURL
	for rows.Next() {
		var u CrawlURL
		var sourceURL, errStr sql.NullString
		if err := rows.Scan(&u.ID, &u.SessionID, &u.URL, &u.Depth, &sourceURL, &u.Status, &u.StatusCode, &u.Title, &u.LinkCount, &u.FormCount, &errStr, &u.CreatedAt); err != nil {
			return nil, interr.New("repository.ListCrawlURLs", interr.KindInternal, err)
		}
		u.SourceURL = sourceURL.String
		u.Error = errStr.String
		out = append(out, &u)
	}
	return out, nil
}

func (s *SQLiteStore) HasCrawlURL(ctx context.Context, sessionID, url string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM crawl_urls WHERE session_id = ? AND url = ?", sessionID, url).Scan(&count)
	if err != nil {
		return false, interr.New("repository.HasCrawlURL", interr.KindInternal, err)
	}
	return count > 0, nil
}

// --- scans / issues ---

func (s *SQLiteStore) PutScan(ctx context.Context, sc *Scan) error {
	urls, _ := json.Marshal(sc.URLs)
	checks, _ := json.Marshal(sc.EnabledChecks)
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO scans
		(id, urls, enabled_checks, total_checks, completed_checks, issues_found, status, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		sc.ID, string(urls), string(checks), sc.TotalChecks, sc.CompletedChecks, sc.IssuesFound, sc.Status, sc.CreatedAt)
	if err != nil {
		return interr.New("repository.PutScan", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateScan(ctx context.Context, sc *Scan) error { return s.PutScan(ctx, sc) }

func (s *SQLiteStore) GetScan(ctx context.Context, id string) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, urls, enabled_checks, total_checks, completed_checks, issues_found, status, created_at FROM scans WHERE id = ?`, id)
	sc, err := scanScan(row)
	if err == sql.ErrNoRows {
		return nil, interr.New("repository.GetScan", interr.KindNotFound, err)
	}
	if err != nil {
		return nil, interr.New("repository.GetScan", interr.KindInternal, err)
	}
	return sc, nil
}

func (s *SQLiteStore) ListScans(ctx context.Context, page Page) ([]*Scan, error) {
	query, args := applyPage(`SELECT id, urls, enabled_checks, total_checks, completed_checks, issues_found, status, created_at FROM scans ORDER BY created_at DESC`, nil, page)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, interr.New("repository.ListScans", interr.KindInternal, err)
	}
	defer rows.Close()
	var out []*Scan
	for rows.Next() {
		sc, err := scanScan(rows)
		if err != nil {
			return nil, interr.New("repository.ListScans", interr.KindInternal, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteScan(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM scans WHERE id = ?", id)
	if err != nil {
		return interr.New("repository.DeleteScan", interr.KindInternal, err)
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM issues WHERE scan_id = ?", id)
	return err
}

func scanScan(row scanner) (*Scan, error) {
	var sc Scan
	var urls, checks string
	if err := row.Scan(&sc.ID, &urls, &checks, &sc.TotalChecks, &sc.CompletedChecks, &sc.IssuesFound, &sc.Status, &sc.CreatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(urls), &sc.URLs)
	_ = json.Unmarshal([]byte(checks), &sc.EnabledChecks)
	return &sc, nil
}

func (s *SQLiteStore) PutIssues(ctx context.Context, issues []*Issue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return interr.New("repository.PutIssues", interr.KindInternal, err)
	}
	for _, i := range issues {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO issues
			(id, scan_id, check_id, type, severity, confidence, url, method, parameter, location, evidence, payload,
			 title, description, remediation, status, created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			i.ID, i.ScanID, i.CheckID, i.Type, i.Severity, i.Confidence, i.URL, i.Method, i.Parameter, i.Location, i.Evidence, i.Payload,
			i.Title, i.Description, i.Remediation, i.Status, i.CreatedAt); err != nil {
			tx.Rollback()
			return interr.New("repository.PutIssues", interr.KindInternal, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return interr.New("repository.PutIssues", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateIssue(ctx context.Context, i *Issue) error {
	_, err := s.db.ExecContext(ctx, "UPDATE issues SET status = ? WHERE id = ?", i.Status, i.ID)
	if err != nil {
		return interr.New("repository.UpdateIssue", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) ListIssues(ctx context.Context, scanID string, severity string, page Page) ([]*Issue, error) {
	query := `SELECT id, scan_id, check_id, type, severity, confidence, url, method, parameter, location, evidence, payload,
		title, description, remediation, status, created_at FROM issues WHERE 1=1`
	var args []interface{}
	if scanID != "" {
		query += " AND scan_id = ?"
		args = append(args, scanID)
	}
	if severity != "" {
		query += " AND severity = ?"
		args = append(args, severity)
	}
	query += " ORDER BY created_at DESC"
	query, args = applyPage(query, args, page)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, interr.New("repository.ListIssues", interr.KindInternal, err)
	}
	defer rows.Close()
	var out []*Issue
	for rows.Next() {
		var i Issue
		var param, location, evidence, payload, remediation sql.NullString
		if err := rows.Scan(&i.ID, &i.ScanID, &i.CheckID, &i.Type, &i.Severity, &i.Confidence, &i.URL, &i.Method, &param, &location, &evidence, &payload,
			&i.Title, &i.Description, &remediation, &i.Status, &i.CreatedAt); err != nil {
			return nil, interr.New("repository.ListIssues", interr.KindInternal, err)
		}
		i.Parameter, i.Location, i.Evidence, i.Payload, i.Remediation = param.String, location.String, evidence.String, payload.String, remediation.String
		out = append(out, &i)
	}
	return out, nil
}

// --- token analyses ---

func (s *SQLiteStore) PutTokenAnalysis(ctx context.Context, a *TokenAnalysis) error {
	samples, _ := json.Marshal(a.Samples)
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO token_analyses
		(id, name, extraction_kind, extraction_key, target_count, samples, status, created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.ExtractionKind, a.ExtractionKey, a.TargetCount, string(samples), a.Status, a.CreatedAt)
	if err != nil {
		return interr.New("repository.PutTokenAnalysis", interr.KindInternal, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTokenAnalysis(ctx context.Context, a *TokenAnalysis) error {
	return s.PutTokenAnalysis(ctx, a)
}

func (s *SQLiteStore) GetTokenAnalysis(ctx context.Context, id string) (*TokenAnalysis, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, extraction_kind, extraction_key, target_count, samples, status, created_at FROM token_analyses WHERE id = ?`, id)
	a, err := scanTokenAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, interr.New("repository.GetTokenAnalysis", interr.KindNotFound, err)
	}
	if err != nil {
		return nil, interr.New("repository.GetTokenAnalysis", interr.KindInternal, err)
	}
	return a, nil
}

func (s *SQLiteStore) ListTokenAnalyses(ctx context.Context, page Page) ([]*TokenAnalysis, error) {
	query, args := applyPage(`SELECT id, name, extraction_kind, extraction_key, target_count, samples, status, created_at FROM token_analyses ORDER BY created_at DESC`, nil, page)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, interr.New("repository.ListTokenAnalyses", interr.KindInternal, err)
	}
	defer rows.Close()
	var out []*TokenAnalysis
	for rows.Next() {
		a, err := scanTokenAnalysis(rows)
		if err != nil {
			return nil, interr.New("repository.ListTokenAnalyses", interr.KindInternal, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteTokenAnalysis(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM token_analyses WHERE id = ?", id)
	if err != nil {
		return interr.New("repository.DeleteTokenAnalysis", interr.KindInternal, err)
	}
	return nil
}

func scanTokenAnalysis(row scanner) (*TokenAnalysis, error) {
	var a TokenAnalysis
	var samples string
	if err := row.Scan(&a.ID, &a.Name, &a.ExtractionKind, &a.ExtractionKey, &a.TargetCount, &samples, &a.Status, &a.CreatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(samples), &a.Samples)
	return &a, nil
}

// --- helpers ---

func applyPage(query string, args []interface{}, page Page) (string, []interface{}) {
	if page.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", page.Limit)
		if page.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", page.Offset)
		}
	}
	return query, args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
