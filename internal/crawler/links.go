package crawler

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// page is the extracted structure of one fetched HTML document: its
// links, forms, and title.
type page struct {
	title     string
	links     []string
	formCount int
}

// parsePage walks the HTML token stream, resolving every <a href> against
// base so the crawler always enqueues absolute URLs.
func parsePage(body io.Reader, base *url.URL) page {
	var p page
	seen := make(map[string]struct{})
	tokenizer := html.NewTokenizer(body)
	var inTitle bool

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return p
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := tokenizer.Token()
			switch tok.Data {
			case "title":
				inTitle = tt == html.StartTagToken
			case "a":
				if href, ok := attr(tok, "href"); ok {
					if resolved, ok := resolve(base, href); ok {
						if _, dup := seen[resolved]; !dup {
							seen[resolved] = struct{}{}
							p.links = append(p.links, resolved)
						}
					}
				}
			case "form":
				p.formCount++
			}
		case html.TextToken:
			if inTitle {
				p.title += strings.TrimSpace(string(tokenizer.Text()))
			}
		case html.EndTagToken:
			tok := tokenizer.Token()
			if tok.Data == "title" {
				inTitle = false
			}
		}
	}
}

func attr(tok html.Token, name string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// resolve turns a possibly-relative href into an absolute http(s) URL,
// discarding fragment-only and non-HTTP schemes (mailto:, javascript:, ...).
func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}
