package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"intercept/internal/exchange"
	"intercept/internal/interr"
	"intercept/internal/rules"
)

// RedisStore is an alternative Repository backend for multi-instance
// deployments, where a single in-process SQLite file can't be shared.
// Every entity is a JSON blob under its own key, with a per-collection
// index SET giving List its membership.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig mirrors config.RedisConfig without importing the config
// package (repository must not depend on it).
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, interr.New("repository.NewRedisStore", interr.KindUpstreamUnreach, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "intercept:"
	}
	slog.Info("redis repository initialized", "component", "repository", "addr", cfg.Addr)
	return &RedisStore{client: client, keyPrefix: prefix}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) key(kind, id string) string   { return s.keyPrefix + kind + ":" + id }
func (s *RedisStore) indexKey(kind string) string  { return s.keyPrefix + kind + ":_index" }

func (s *RedisStore) put(ctx context.Context, kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return interr.New("repository.RedisStore.put", interr.KindInternal, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(kind, id), data, 0)
	pipe.SAdd(ctx, s.indexKey(kind), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return interr.New("repository.RedisStore.put", interr.KindInternal, err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, kind, id string, v any) error {
	data, err := s.client.Get(ctx, s.key(kind, id)).Bytes()
	if err == redis.Nil {
		return interr.New("repository.RedisStore.get", interr.KindNotFound, fmt.Errorf("%s %s not found", kind, id))
	}
	if err != nil {
		return interr.New("repository.RedisStore.get", interr.KindInternal, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return interr.New("repository.RedisStore.get", interr.KindInternal, err)
	}
	return nil
}

func (s *RedisStore) delete(ctx context.Context, kind, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(kind, id))
	pipe.SRem(ctx, s.indexKey(kind), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return interr.New("repository.RedisStore.delete", interr.KindInternal, err)
	}
	return nil
}

// ids returns a collection's index members in a stable (sorted) order,
// since SMEMBERS has none.
func (s *RedisStore) ids(ctx context.Context, kind string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(kind)).Result()
	if err != nil {
		return nil, interr.New("repository.RedisStore.ids", interr.KindInternal, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func paginate[T any](items []T, page Page) []T {
	if page.Offset >= len(items) {
		return nil
	}
	end := len(items)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return items[page.Offset:end]
}

// --- Exchanges ---

const kindExchange = "exchange"

func (s *RedisStore) PutExchange(ctx context.Context, ex *exchange.Exchange) error {
	return s.put(ctx, kindExchange, ex.ID, ex)
}

func (s *RedisStore) UpdateExchange(ctx context.Context, ex *exchange.Exchange) error {
	return s.put(ctx, kindExchange, ex.ID, ex)
}

func (s *RedisStore) GetExchange(ctx context.Context, id string) (*exchange.Exchange, error) {
	var ex exchange.Exchange
	if err := s.get(ctx, kindExchange, id, &ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

func (s *RedisStore) ListExchanges(ctx context.Context, filter ExchangeFilter, page Page) ([]*exchange.Exchange, error) {
	ids, err := s.ids(ctx, kindExchange)
	if err != nil {
		return nil, err
	}
	var matched []*exchange.Exchange
	for _, id := range ids {
		ex, err := s.GetExchange(ctx, id)
		if err != nil {
			continue
		}
		if exchangeMatches(ex, filter) {
			matched = append(matched, ex)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return paginate(matched, page), nil
}

func exchangeMatches(ex *exchange.Exchange, f ExchangeFilter) bool {
	if f.Method != "" && !strings.EqualFold(ex.Request.Method, f.Method) {
		return false
	}
	if f.Host != "" && !strings.Contains(strings.ToLower(ex.Request.Host), strings.ToLower(f.Host)) {
		return false
	}
	if f.Status != 0 && (ex.Response == nil || ex.Response.Status != f.Status) {
		return false
	}
	if f.Tag != "" && ex.Tag != f.Tag {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(ex.Request.URL), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

func (s *RedisStore) DeleteExchange(ctx context.Context, id string) error {
	return s.delete(ctx, kindExchange, id)
}

func (s *RedisStore) ClearExchanges(ctx context.Context) error {
	ids, err := s.ids(ctx, kindExchange)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.delete(ctx, kindExchange, id); err != nil {
			return err
		}
	}
	return nil
}

// --- Rules ---

const kindRule = "rule"

func (s *RedisStore) PutRule(ctx context.Context, r *rules.Rule) error {
	return s.put(ctx, kindRule, r.ID, r)
}

func (s *RedisStore) UpdateRule(ctx context.Context, r *rules.Rule) error {
	return s.put(ctx, kindRule, r.ID, r)
}

func (s *RedisStore) DeleteRule(ctx context.Context, id string) error {
	return s.delete(ctx, kindRule, id)
}

func (s *RedisStore) ListRules(ctx context.Context) ([]rules.Rule, error) {
	ids, err := s.ids(ctx, kindRule)
	if err != nil {
		return nil, err
	}
	out := make([]rules.Rule, 0, len(ids))
	for _, id := range ids {
		var r rules.Rule
		if err := s.get(ctx, kindRule, id, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

// --- Attacks ---

const kindAttack = "attack"
const kindAttackResult = "attack_result"

func (s *RedisStore) PutAttack(ctx context.Context, a *Attack) error {
	return s.put(ctx, kindAttack, a.ID, a)
}

func (s *RedisStore) UpdateAttack(ctx context.Context, a *Attack) error {
	return s.put(ctx, kindAttack, a.ID, a)
}

func (s *RedisStore) GetAttack(ctx context.Context, id string) (*Attack, error) {
	var a Attack
	if err := s.get(ctx, kindAttack, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *RedisStore) ListAttacks(ctx context.Context, page Page) ([]*Attack, error) {
	ids, err := s.ids(ctx, kindAttack)
	if err != nil {
		return nil, err
	}
	out := make([]*Attack, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAttack(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), nil
}

func (s *RedisStore) DeleteAttack(ctx context.Context, id string) error {
	return s.delete(ctx, kindAttack, id)
}

func (s *RedisStore) PutAttackResults(ctx context.Context, results []*AttackResult) error {
	pipe := s.client.TxPipeline()
	for _, res := range results {
		data, err := json.Marshal(res)
		if err != nil {
			return interr.New("repository.RedisStore.PutAttackResults", interr.KindInternal, err)
		}
		pipe.Set(ctx, s.key(kindAttackResult, res.ID), data, 0)
		pipe.SAdd(ctx, s.attackResultIndexKey(res.AttackID), res.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return interr.New("repository.RedisStore.PutAttackResults", interr.KindInternal, err)
	}
	return nil
}

func (s *RedisStore) attackResultIndexKey(attackID string) string {
	return s.keyPrefix + kindAttackResult + ":by_attack:" + attackID
}

func (s *RedisStore) ListAttackResults(ctx context.Context, attackID string, page Page) ([]*AttackResult, error) {
	ids, err := s.client.SMembers(ctx, s.attackResultIndexKey(attackID)).Result()
	if err != nil {
		return nil, interr.New("repository.RedisStore.ListAttackResults", interr.KindInternal, err)
	}
	sort.Strings(ids)
	out := make([]*AttackResult, 0, len(ids))
	for _, id := range ids {
		var res AttackResult
		if err := s.get(ctx, kindAttackResult, id, &res); err != nil {
			continue
		}
		out = append(out, &res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, page), nil
}

// --- Crawl sessions / URLs ---

const kindCrawlSession = "crawl_session"
const kindCrawlURL = "crawl_url"

func (s *RedisStore) PutCrawlSession(ctx context.Context, cs *CrawlSession) error {
	return s.put(ctx, kindCrawlSession, cs.ID, cs)
}

func (s *RedisStore) UpdateCrawlSession(ctx context.Context, cs *CrawlSession) error {
	return s.put(ctx, kindCrawlSession, cs.ID, cs)
}

func (s *RedisStore) GetCrawlSession(ctx context.Context, id string) (*CrawlSession, error) {
	var cs CrawlSession
	if err := s.get(ctx, kindCrawlSession, id, &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *RedisStore) ListCrawlSessions(ctx context.Context, page Page) ([]*CrawlSession, error) {
	ids, err := s.ids(ctx, kindCrawlSession)
	if err != nil {
		return nil, err
	}
	out := make([]*CrawlSession, 0, len(ids))
	for _, id := range ids {
		cs, err := s.GetCrawlSession(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), nil
}

func (s *RedisStore) DeleteCrawlSession(ctx context.Context, id string) error {
	return s.delete(ctx, kindCrawlSession, id)
}

func (s *RedisStore) crawlURLIndexKey(sessionID string) string {
	return s.keyPrefix + kindCrawlURL + ":by_session:" + sessionID
}

func (s *RedisStore) PutCrawlURLs(ctx context.Context, urls []*CrawlURL) error {
	pipe := s.client.TxPipeline()
	for _, u := range urls {
		data, err := json.Marshal(u)
		if err != nil {
			return interr.New("repository.RedisStore.PutCrawlURLs", interr.KindInternal, err)
		}
		pipe.Set(ctx, s.key(kindCrawlURL, u.ID), data, 0)
		pipe.SAdd(ctx, s.crawlURLIndexKey(u.SessionID), u.ID)
		pipe.HSet(ctx, s.crawlURLSeenKey(u.SessionID), u.URL, u.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return interr.New("repository.RedisStore.PutCrawlURLs", interr.KindInternal, err)
	}
	return nil
}

func (s *RedisStore) crawlURLSeenKey(sessionID string) string {
	return s.keyPrefix + kindCrawlURL + ":seen:" + sessionID
}

func (s *RedisStore) UpdateCrawlURL(ctx context.Context, u *CrawlURL) error {
	return s.put(ctx, kindCrawlURL, u.ID, u)
}

func (s *RedisStore) ListCrawlURLs(ctx context.Context, sessionID string, status string, page Page) ([]*CrawlURL, error) {
	ids, err := s.client.SMembers(ctx, s.crawlURLIndexKey(sessionID)).Result()
	if err != nil {
		return nil, interr.New("repository.RedisStore.ListCrawlURLs", interr.KindInternal, err)
	}
	sort.Strings(ids)
	out := make([]*CrawlURL, 0, len(ids))
	for _, id := range ids {
		var u CrawlURL
		if err := s.get(ctx, kindCrawlURL, id, &u); err != nil {
			continue
		}
		if status != "" && u.Status != status {
			continue
		}
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, page), nil
}

func (s *RedisStore) HasCrawlURL(ctx context.Context, sessionID, url string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.crawlURLSeenKey(sessionID), url).Result()
	if err != nil {
		return false, interr.New("repository.RedisStore.HasCrawlURL", interr.KindInternal, err)
	}
	return ok, nil
}

// --- Scans / issues ---

const kindScan = "scan"
const kindIssue = "issue"

func (s *RedisStore) PutScan(ctx context.Context, sc *Scan) error {
	return s.put(ctx, kindScan, sc.ID, sc)
}

func (s *RedisStore) UpdateScan(ctx context.Context, sc *Scan) error {
	return s.put(ctx, kindScan, sc.ID, sc)
}

func (s *RedisStore) GetScan(ctx context.Context, id string) (*Scan, error) {
	var sc Scan
	if err := s.get(ctx, kindScan, id, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *RedisStore) ListScans(ctx context.Context, page Page) ([]*Scan, error) {
	ids, err := s.ids(ctx, kindScan)
	if err != nil {
		return nil, err
	}
	out := make([]*Scan, 0, len(ids))
	for _, id := range ids {
		sc, err := s.GetScan(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), nil
}

func (s *RedisStore) DeleteScan(ctx context.Context, id string) error {
	return s.delete(ctx, kindScan, id)
}

func (s *RedisStore) issueIndexKey(scanID string) string {
	return s.keyPrefix + kindIssue + ":by_scan:" + scanID
}

func (s *RedisStore) PutIssues(ctx context.Context, issues []*Issue) error {
	pipe := s.client.TxPipeline()
	for _, issue := range issues {
		data, err := json.Marshal(issue)
		if err != nil {
			return interr.New("repository.RedisStore.PutIssues", interr.KindInternal, err)
		}
		pipe.Set(ctx, s.key(kindIssue, issue.ID), data, 0)
		pipe.SAdd(ctx, s.issueIndexKey(issue.ScanID), issue.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return interr.New("repository.RedisStore.PutIssues", interr.KindInternal, err)
	}
	return nil
}

func (s *RedisStore) UpdateIssue(ctx context.Context, issue *Issue) error {
	var existing Issue
	if err := s.get(ctx, kindIssue, issue.ID, &existing); err != nil {
		return err
	}
	existing.Status = issue.Status
	return s.put(ctx, kindIssue, existing.ID, &existing)
}

func (s *RedisStore) ListIssues(ctx context.Context, scanID string, severity string, page Page) ([]*Issue, error) {
	ids, err := s.client.SMembers(ctx, s.issueIndexKey(scanID)).Result()
	if err != nil {
		return nil, interr.New("repository.RedisStore.ListIssues", interr.KindInternal, err)
	}
	sort.Strings(ids)
	out := make([]*Issue, 0, len(ids))
	for _, id := range ids {
		var issue Issue
		if err := s.get(ctx, kindIssue, id, &issue); err != nil {
			continue
		}
		if severity != "" && issue.Severity != severity {
			continue
		}
		out = append(out, &issue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), nil
}

// --- Token analyses ---

const kindTokenAnalysis = "token_analysis"

func (s *RedisStore) PutTokenAnalysis(ctx context.Context, a *TokenAnalysis) error {
	return s.put(ctx, kindTokenAnalysis, a.ID, a)
}

func (s *RedisStore) UpdateTokenAnalysis(ctx context.Context, a *TokenAnalysis) error {
	return s.put(ctx, kindTokenAnalysis, a.ID, a)
}

func (s *RedisStore) GetTokenAnalysis(ctx context.Context, id string) (*TokenAnalysis, error) {
	var a TokenAnalysis
	if err := s.get(ctx, kindTokenAnalysis, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *RedisStore) ListTokenAnalyses(ctx context.Context, page Page) ([]*TokenAnalysis, error) {
	ids, err := s.ids(ctx, kindTokenAnalysis)
	if err != nil {
		return nil, err
	}
	out := make([]*TokenAnalysis, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetTokenAnalysis(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page), nil
}

func (s *RedisStore) DeleteTokenAnalysis(ctx context.Context, id string) error {
	return s.delete(ctx, kindTokenAnalysis, id)
}
