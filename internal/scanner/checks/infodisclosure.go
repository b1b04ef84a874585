package checks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"intercept/internal/repository"
)

type disclosurePattern struct {
	name        string
	pattern     *regexp.Regexp
	severity    string
	title       string
	description string
}

// disclosurePatterns is the fixed dictionary of sensitive-data regexes
// this check scans response bodies against.
var disclosurePatterns = []disclosurePattern{
	{"email", regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`), "info", "Email Address Disclosure", "Email addresses were found in the response."},
	{"aws_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "critical", "AWS Access Key Disclosure", "An AWS access key was found in the response."},
	{"private_key", regexp.MustCompile(`-----BEGIN (?:RSA |DSA |EC |OPENSSH )?PRIVATE KEY-----`), "critical", "Private Key Disclosure", "A private key was found in the response."},
	{"api_key", regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|api[_-]?secret)['"]?\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}`), "high", "API Key Disclosure", "An API key was found in the response."},
	{"password", regexp.MustCompile(`(?i)(?:password|passwd|pwd)['"]?\s*[:=]\s*['"]?[^\s'"]{4,}`), "high", "Password Disclosure", "A password assignment was found in the response."},
	{"credit_card", regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`), "critical", "Credit Card Number Disclosure", "A credit card number was found in the response."},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "critical", "Social Security Number Disclosure", "A Social Security Number was found in the response."},
	{"jwt_token", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), "medium", "JWT Token Disclosure", "A JWT token was found in the response."},
	{"stack_trace", regexp.MustCompile(`Traceback \(most recent call last\)|at [a-zA-Z0-9_$]+\.[a-zA-Z0-9_$]+\([^)]*\)|Exception in thread`), "medium", "Stack Trace Disclosure", "A stack trace was found in the response, which may reveal internal application details."},
	{"debug_info", regexp.MustCompile(`(?i)debug\s*[:=]\s*true|debug_mode|debugger`), "medium", "Debug Mode Enabled", "Debug mode appears to be enabled, which may expose sensitive information."},
	{"database_error", regexp.MustCompile(`(?i)mysql_|pg_|sqlite_|ora-\d+|sqlstate|database error|db error`), "medium", "Database Error Message", "A database error message was found, which may reveal database structure."},
	{"file_path", regexp.MustCompile(`/var/www/|/home/\w+/|C:\\(?:Users|Windows)\\|/usr/local/`), "low", "File Path Disclosure", "File system paths were found in the response."},
}

var rfc1918 = regexp.MustCompile(`\b(?:10\.|192\.168\.|172\.(?:1[6-9]|2[0-9]|3[01])\.)(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){1,2}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`)

// sensitivePaths are probed relative to the target's origin; a 200 is
// flagged unless it is an HTML response with a body under 100 bytes.
var sensitivePaths = []string{
	"/.git/config",
	"/.env",
	"/wp-config.php.bak",
	"/config.php.bak",
	"/.htaccess",
	"/web.config",
	"/crossdomain.xml",
	"/.well-known/security.txt",
}

// InformationDisclosure regex-scans one response body against a fixed
// dictionary of sensitive-data patterns, then probes a fixed list of
// commonly-exposed paths.
type InformationDisclosure struct{}

func (InformationDisclosure) ID() string { return "information_disclosure" }

func (c InformationDisclosure) Run(ctx context.Context, client *http.Client, target Target) ([]*repository.Issue, error) {
	_, body, err := get(ctx, client, target.URL, target.Headers)
	if err != nil {
		return nil, err
	}
	text := string(body)

	var issues []*repository.Issue
	for _, p := range disclosurePatterns {
		matches := uniqueMatches(p.pattern.FindAllString(text, -1), 5)
		if len(matches) == 0 {
			continue
		}
		confidence := "tentative"
		if p.severity == "critical" || p.severity == "high" {
			confidence = "firm"
		}
		issue := newIssue(c.ID(), "info_disclosure_"+p.name, p.severity, confidence, target.URL, http.MethodGet)
		issue.Title = p.title
		issue.Description = p.description
		issue.Evidence = strings.Join(matches, ", ")
		issue.Remediation = "Review and remove sensitive information from responses; avoid verbose error handling that exposes internals."
		issues = append(issues, issue)
	}

	if matches := uniqueMatches(rfc1918.FindAllString(text, -1), 5); len(matches) > 0 {
		issue := newIssue(c.ID(), "info_disclosure_ip_address", "info", "tentative", target.URL, http.MethodGet)
		issue.Title = "Internal IP Address Disclosure"
		issue.Description = "RFC1918 private IP addresses were found in the response."
		issue.Evidence = strings.Join(matches, ", ")
		issue.Remediation = "Review and remove sensitive information from responses."
		issues = append(issues, issue)
	}

	issues = append(issues, c.probeSensitivePaths(ctx, client, target)...)
	return issues, nil
}

func (c InformationDisclosure) probeSensitivePaths(ctx context.Context, client *http.Client, target Target) []*repository.Issue {
	base, err := url.Parse(target.URL)
	if err != nil {
		return nil
	}

	var issues []*repository.Issue
	for _, path := range sensitivePaths {
		ref, err := url.Parse(path)
		if err != nil {
			continue
		}
		testURL := base.ResolveReference(ref).String()

		resp, body, err := get(ctx, client, testURL, nil)
		if err != nil || resp.StatusCode != http.StatusOK {
			continue
		}
		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") && len(body) < 100 {
			continue
		}

		severity := "info"
		if path == "/.git/config" || path == "/.env" {
			severity = "medium"
		}
		issue := newIssue(c.ID(), "sensitive_file_exposed", severity, "certain", testURL, http.MethodGet)
		issue.Title = fmt.Sprintf("Sensitive File Accessible: %s", path)
		issue.Description = fmt.Sprintf("The file %s is accessible, which may contain sensitive information.", path)
		issue.Evidence = fmt.Sprintf("HTTP 200 OK, Content-Length: %d", len(body))
		issue.Remediation = "Restrict access to sensitive files via server configuration."
		issues = append(issues, issue)
	}
	return issues
}

func uniqueMatches(matches []string, limit int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, truncate(m, 50))
		if len(out) >= limit {
			break
		}
	}
	return out
}
