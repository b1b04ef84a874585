// Package repository defines the technology-agnostic persistence seam
// every component depends on, plus the entity types it stores. The core
// never depends on SQL semantics directly; sqlite.go and redis.go are
// interchangeable implementations of Repository.
package repository

import (
	"context"
	"time"

	"intercept/internal/exchange"
	"intercept/internal/rules"
)

// Page bounds a listing query.
type Page struct {
	Limit  int
	Offset int
}

// ExchangeFilter narrows /requests listing by the indexed columns.
type ExchangeFilter struct {
	Method   string
	Host     string
	Status   int
	Search   string
	Tag      string
}

// Attack is a fuzzing job. Immutable once running, except for
// Status/CompletedRequests progress fields.
type Attack struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Method            string            `json:"method"`
	URLTemplate       string            `json:"url_template"`
	HeaderTemplates   map[string]string `json:"header_templates"`
	BodyTemplate      string            `json:"body_template"`
	Positions         []Position        `json:"positions"`
	Mode              string            `json:"mode"` // sniper | battering_ram | pitchfork | cluster_bomb
	PayloadSets       [][]string        `json:"payload_sets"`
	Concurrency       int               `json:"concurrency"`
	DelayMs           int               `json:"delay_ms"`
	FollowRedirects   bool              `json:"follow_redirects"`
	TimeoutMs         int               `json:"timeout_ms"`
	TotalRequests     int64             `json:"total_requests"`
	CompletedRequests int64             `json:"completed_requests"`
	Status            string            `json:"status"` // configured|running|paused|completed|error
	CreatedAt         time.Time         `json:"created_at"`
}

// Position is a byte-range [Start,End) into the concatenated template
// string that a combination substitutes into.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// AttackResult is one fired request of an Attack.
type AttackResult struct {
	ID         string    `json:"id"`
	AttackID   string    `json:"attack_id"`
	Payloads   []string  `json:"payloads"`
	URL        string    `json:"url"`
	Status     int       `json:"status"`
	Length     int64     `json:"length"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	BodySample []byte    `json:"body_sample"` // first 10 KiB
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CrawlSession is a bounded BFS crawl job.
type CrawlSession struct {
	ID                 string    `json:"id"`
	Seeds              []string  `json:"seeds"`
	MaxDepth           int       `json:"max_depth"`
	MaxPages           int       `json:"max_pages"`
	Threads            int       `json:"threads"`
	DelayMs            int       `json:"delay_ms"`
	IncludePatterns    []string  `json:"include_patterns"`
	ExcludePatterns    []string  `json:"exclude_patterns"`
	RespectRobots      bool      `json:"respect_robots"`
	FollowExternal     bool      `json:"follow_external_links"`
	PagesCrawled       int64     `json:"pages_crawled"`
	PagesQueued        int64     `json:"pages_queued"`
	ErrorCount         int64     `json:"error_count"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

// CrawlURL is one frontier entry of a CrawlSession.
type CrawlURL struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	URL         string    `json:"url"`
	Depth       int       `json:"depth"`
	SourceURL   string    `json:"source_url,omitempty"`
	Status      string    `json:"status"` // queued|crawling|crawled|error|skipped
	StatusCode  int       `json:"status_code,omitempty"`
	Title       string    `json:"title,omitempty"`
	LinkCount   int       `json:"link_count"`
	FormCount   int       `json:"form_count"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Scan is an active-scanner job.
type Scan struct {
	ID              string    `json:"id"`
	URLs            []string  `json:"urls"`
	EnabledChecks   []string  `json:"enabled_checks"`
	RequestDelayMs  int64     `json:"request_delay_ms"`
	TotalChecks     int64     `json:"total_checks"`
	CompletedChecks int64     `json:"completed_checks"`
	IssuesFound     int64     `json:"issues_found"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// Issue is a single finding of a Scan.
type Issue struct {
	ID            string    `json:"id"`
	ScanID        string    `json:"scan_id"`
	CheckID       string    `json:"check_id"`
	Type          string    `json:"type"`
	Severity      string    `json:"severity"`   // critical|high|medium|low|info
	Confidence    string    `json:"confidence"` // certain|firm|tentative
	URL           string    `json:"url"`
	Method        string    `json:"method"`
	Parameter     string    `json:"parameter,omitempty"`
	Location      string    `json:"location,omitempty"` // where in message (query, header, body, ...)
	Evidence      string    `json:"evidence,omitempty"`
	Payload       string    `json:"payload,omitempty"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Remediation   string    `json:"remediation,omitempty"`
	Status        string    `json:"status"` // new|confirmed|false_positive|fixed
	CreatedAt     time.Time `json:"created_at"`
}

// TokenAnalysis is a sequencer analysis.
type TokenAnalysis struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	ExtractionKind string          `json:"extraction_kind"` // header|cookie|body_regex|json_path
	ExtractionKey  string          `json:"extraction_key"`
	TargetCount    int             `json:"target_count"`
	Samples        []string        `json:"samples"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Repository is the narrow, technology-agnostic contract every component
// depends on for persistence.
type Repository interface {
	PutExchange(ctx context.Context, ex *exchange.Exchange) error
	UpdateExchange(ctx context.Context, ex *exchange.Exchange) error
	GetExchange(ctx context.Context, id string) (*exchange.Exchange, error)
	ListExchanges(ctx context.Context, filter ExchangeFilter, page Page) ([]*exchange.Exchange, error)
	DeleteExchange(ctx context.Context, id string) error
	ClearExchanges(ctx context.Context) error

	PutRule(ctx context.Context, r *rules.Rule) error
	UpdateRule(ctx context.Context, r *rules.Rule) error
	DeleteRule(ctx context.Context, id string) error
	ListRules(ctx context.Context) ([]rules.Rule, error)

	PutAttack(ctx context.Context, a *Attack) error
	UpdateAttack(ctx context.Context, a *Attack) error
	GetAttack(ctx context.Context, id string) (*Attack, error)
	ListAttacks(ctx context.Context, page Page) ([]*Attack, error)
	DeleteAttack(ctx context.Context, id string) error
	PutAttackResults(ctx context.Context, results []*AttackResult) error
	ListAttackResults(ctx context.Context, attackID string, page Page) ([]*AttackResult, error)

	PutCrawlSession(ctx context.Context, s *CrawlSession) error
	UpdateCrawlSession(ctx context.Context, s *CrawlSession) error
	GetCrawlSession(ctx context.Context, id string) (*CrawlSession, error)
	ListCrawlSessions(ctx context.Context, page Page) ([]*CrawlSession, error)
	DeleteCrawlSession(ctx context.Context, id string) error
	PutCrawlURLs(ctx context.Context, urls []*CrawlURL) error
	UpdateCrawlURL(ctx context.Context, u *CrawlURL) error
	ListCrawlURLs(ctx context.Context, sessionID string, status string, page Page) ([]*CrawlURL, error)
	HasCrawlURL(ctx context.Context, sessionID, url string) (bool, error)

	PutScan(ctx context.Context, s *Scan) error
	UpdateScan(ctx context.Context, s *Scan) error
	GetScan(ctx context.Context, id string) (*Scan, error)
	ListScans(ctx context.Context, page Page) ([]*Scan, error)
	DeleteScan(ctx context.Context, id string) error
	PutIssues(ctx context.Context, issues []*Issue) error
	UpdateIssue(ctx context.Context, issue *Issue) error
	ListIssues(ctx context.Context, scanID string, severity string, page Page) ([]*Issue, error)

	PutTokenAnalysis(ctx context.Context, a *TokenAnalysis) error
	UpdateTokenAnalysis(ctx context.Context, a *TokenAnalysis) error
	GetTokenAnalysis(ctx context.Context, id string) (*TokenAnalysis, error)
	ListTokenAnalyses(ctx context.Context, page Page) ([]*TokenAnalysis, error)
	DeleteTokenAnalysis(ctx context.Context, id string) error

	Close() error
}
