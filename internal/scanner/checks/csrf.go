package checks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"intercept/internal/repository"
)

// csrfFieldNames are common CSRF token field/meta names.
var csrfFieldNames = []string{
	"csrf", "csrf_token", "csrftoken", "csrfmiddlewaretoken", "_csrf", "_token",
	"authenticity_token", "token", "xsrf", "xsrf_token", "_xsrf",
	"anti-csrf-token", "anticsrf", "__requestverificationtoken",
}

// csrfSensitiveFields upgrade a form's severity to high when present
// among its field names.
var csrfSensitiveFields = []string{"password", "email", "delete", "admin", "transfer", "payment"}

type htmlForm struct {
	action      string
	method      string
	hiddenNames []string
	fieldNames  []string
}

// CSRF fetches and parses a page's HTML, enumerating POST forms that lack
// any recognizable CSRF token.
type CSRF struct{}

func (CSRF) ID() string { return "csrf" }

func (c CSRF) Run(ctx context.Context, client *http.Client, target Target) ([]*repository.Issue, error) {
	_, body, err := get(ctx, client, target.URL, target.Headers)
	if err != nil {
		return nil, err
	}

	forms, metaNames := parseForms(body)

	var issues []*repository.Issue
	for _, form := range forms {
		if form.method != "POST" {
			continue
		}
		if hasCSRFToken(form, metaNames) {
			continue
		}

		severity := "medium"
		for _, name := range form.fieldNames {
			if matchesAny(name, csrfSensitiveFields) {
				severity = "high"
				break
			}
		}

		desc := form.action
		if desc == "" {
			desc = "unnamed form"
		}

		issue := newIssue(c.ID(), "csrf_missing_token", severity, "firm", target.URL, http.MethodPost)
		issue.Title = fmt.Sprintf("Form Without CSRF Protection: %s", truncate(desc, 50))
		issue.Description = fmt.Sprintf("A POST form (%s) does not appear to have CSRF protection. An attacker could trick users into submitting unintended actions.", desc)
		issue.Evidence = fmt.Sprintf("Form action: %s, Fields: %s", form.action, strings.Join(firstN(form.fieldNames, 5), ", "))
		issue.Remediation = "Implement CSRF tokens in all state-changing forms; use the SameSite cookie attribute; consider a CSRF protection library."
		issues = append(issues, issue)
	}
	return issues, nil
}

func hasCSRFToken(form htmlForm, metaNames []string) bool {
	for _, name := range form.hiddenNames {
		if matchesAny(name, csrfFieldNames) {
			return true
		}
	}
	for _, name := range metaNames {
		if matchesAny(name, csrfFieldNames) {
			return true
		}
	}
	return false
}

func matchesAny(name string, candidates []string) bool {
	for _, c := range candidates {
		if strings.Contains(name, c) {
			return true
		}
	}
	return false
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

// parseForms walks the HTML token stream collecting every <form>...</form>
// with its method, hidden-input, and general field names, plus every
// top-level <meta name="..."> tag.
func parseForms(body []byte) ([]htmlForm, []string) {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	var forms []htmlForm
	var metaNames []string
	var current *htmlForm

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := tokenizer.Token()

		switch tok.Data {
		case "form":
			if tt == html.StartTagToken {
				method := strings.ToUpper(attrOrEmpty(tok, "method"))
				if method == "" {
					method = "GET"
				}
				forms = append(forms, htmlForm{action: attrOrEmpty(tok, "action"), method: method})
				current = &forms[len(forms)-1]
			} else if tt == html.EndTagToken {
				current = nil
			}
		case "input", "select", "textarea":
			if current == nil {
				continue
			}
			name := strings.ToLower(attrOrEmpty(tok, "name"))
			if name != "" {
				current.fieldNames = append(current.fieldNames, name)
			}
			if tok.Data == "input" && strings.EqualFold(attrOrEmpty(tok, "type"), "hidden") && name != "" {
				current.hiddenNames = append(current.hiddenNames, name)
			}
		case "meta":
			name := strings.ToLower(attrOrEmpty(tok, "name"))
			if name != "" {
				metaNames = append(metaNames, name)
			}
		}
	}
	return forms, metaNames
}

func attrOrEmpty(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
