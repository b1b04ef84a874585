package checks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"intercept/internal/repository"
)

type headerSpec struct {
	name        string
	severity    string
	description string
	remediation string
}

// requiredHeaders is the fixed table of security headers whose absence
// is flagged.
var requiredHeaders = []headerSpec{
	{"Strict-Transport-Security", "medium", "HSTS header is missing. This header enforces secure HTTPS connections.", "Add 'Strict-Transport-Security: max-age=31536000; includeSubDomains' header."},
	{"X-Content-Type-Options", "low", "X-Content-Type-Options header is missing. This prevents MIME type sniffing.", "Add 'X-Content-Type-Options: nosniff' header."},
	{"X-Frame-Options", "medium", "X-Frame-Options header is missing. This prevents clickjacking attacks.", "Add 'X-Frame-Options: DENY' or 'SAMEORIGIN' header."},
	{"Content-Security-Policy", "medium", "Content-Security-Policy header is missing. CSP helps prevent XSS and data injection attacks.", "Implement a Content-Security-Policy header appropriate for the application."},
	{"X-XSS-Protection", "info", "X-XSS-Protection header is missing. Deprecated, but still useful for legacy browsers.", "Add 'X-XSS-Protection: 1; mode=block' (or rely on CSP in modern browsers)."},
	{"Referrer-Policy", "low", "Referrer-Policy header is missing. This controls how much referrer information is shared.", "Add 'Referrer-Policy: strict-origin-when-cross-origin' header."},
	{"Permissions-Policy", "low", "Permissions-Policy header is missing. This controls browser features.", "Add a Permissions-Policy header to restrict browser features."},
}

// disclosingHeaders reveal server/framework fingerprint information when
// present.
var disclosingHeaders = []headerSpec{
	{"Server", "info", "The Server header reveals server software information.", "Remove or obfuscate the Server header."},
	{"X-Powered-By", "info", "The X-Powered-By header reveals technology information.", "Remove the X-Powered-By header."},
	{"X-AspNet-Version", "info", "The X-AspNet-Version header reveals the ASP.NET version.", "Remove the X-AspNet-Version header in web.config."},
}

// SecurityHeaders issues one GET and inspects the response headers and
// Set-Cookie attributes.
type SecurityHeaders struct{}

func (SecurityHeaders) ID() string { return "security_headers" }

func (c SecurityHeaders) Run(ctx context.Context, client *http.Client, target Target) ([]*repository.Issue, error) {
	resp, _, err := get(ctx, client, target.URL, target.Headers)
	if err != nil {
		return nil, err
	}

	var issues []*repository.Issue
	for _, h := range requiredHeaders {
		if resp.Header.Get(h.name) == "" {
			issue := newIssue(c.ID(), "missing_security_header", h.severity, "certain", target.URL, http.MethodGet)
			issue.Title = fmt.Sprintf("Missing %s Header", h.name)
			issue.Description = h.description
			issue.Remediation = h.remediation
			issues = append(issues, issue)
		}
	}

	for _, h := range disclosingHeaders {
		if v := resp.Header.Get(h.name); v != "" {
			issue := newIssue(c.ID(), "header_disclosure", h.severity, "certain", target.URL, http.MethodGet)
			issue.Title = fmt.Sprintf("%s Information Disclosure", h.name)
			issue.Description = h.description + " Value: " + v
			issue.Evidence = h.name + ": " + v
			issue.Remediation = h.remediation
			issues = append(issues, issue)
		}
	}

	for _, cookie := range resp.Header.Values("Set-Cookie") {
		lower := strings.ToLower(cookie)
		evidence := truncate(cookie, 100)
		if !strings.Contains(lower, "secure") {
			issue := newIssue(c.ID(), "insecure_cookie", "medium", "certain", target.URL, http.MethodGet)
			issue.Title = "Cookie Missing Secure Flag"
			issue.Description = "A cookie is set without the Secure flag, allowing it to be sent over HTTP."
			issue.Evidence = evidence
			issue.Remediation = "Add the Secure flag to all cookies."
			issues = append(issues, issue)
		}
		if !strings.Contains(lower, "httponly") {
			issue := newIssue(c.ID(), "insecure_cookie", "low", "certain", target.URL, http.MethodGet)
			issue.Title = "Cookie Missing HttpOnly Flag"
			issue.Description = "A cookie is set without the HttpOnly flag, making it accessible to JavaScript."
			issue.Evidence = evidence
			issue.Remediation = "Add the HttpOnly flag to cookies that don't need JavaScript access."
			issues = append(issues, issue)
		}
		if !strings.Contains(lower, "samesite") {
			issue := newIssue(c.ID(), "insecure_cookie", "low", "certain", target.URL, http.MethodGet)
			issue.Title = "Cookie Missing SameSite Attribute"
			issue.Description = "A cookie is set without the SameSite attribute, which helps prevent CSRF."
			issue.Evidence = evidence
			issue.Remediation = "Add SameSite=Strict or SameSite=Lax to cookies."
			issues = append(issues, issue)
		}
	}

	return issues, nil
}
