package checks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeadersFlagsMissingHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	issues, err := (SecurityHeaders{}).Run(context.Background(), srv.Client(), Target{URL: srv.URL, Method: http.MethodGet})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, iss := range issues {
		if iss.Type == "missing_security_header" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected missing_security_header issues for a bare response")
	}
}

func TestSecurityHeadersFlagsDisclosureAndInsecureCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx/1.2.3")
		w.Header().Set("Set-Cookie", "session=abc123; Path=/")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Permissions-Policy", "geolocation=()")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	issues, err := (SecurityHeaders{}).Run(context.Background(), srv.Client(), Target{URL: srv.URL, Method: http.MethodGet})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var gotDisclosure, gotCookie bool
	for _, iss := range issues {
		if iss.Type == "header_disclosure" {
			gotDisclosure = true
		}
		if iss.Type == "insecure_cookie" {
			gotCookie = true
		}
		if iss.Type == "missing_security_header" {
			t.Fatalf("did not expect a missing-header issue when all required headers are set: %+v", iss)
		}
	}
	if !gotDisclosure {
		t.Fatal("expected Server header disclosure to be flagged")
	}
	if !gotCookie {
		t.Fatal("expected the cookie missing Secure/HttpOnly/SameSite to be flagged")
	}
}

func TestInformationDisclosureFindsPatternsInBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte("contact us at admin@example.com for help"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	issues, err := (InformationDisclosure{}).Run(context.Background(), srv.Client(), Target{URL: srv.URL + "/", Method: http.MethodGet})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, iss := range issues {
		if iss.Type == "info_disclosure_email" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an email disclosure issue")
	}
}

func TestInformationDisclosureProbesSensitivePaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/.env" {
			w.Write([]byte("DB_PASSWORD=supersecretvalue1234567890"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	issues, err := (InformationDisclosure{}).Run(context.Background(), srv.Client(), Target{URL: srv.URL + "/", Method: http.MethodGet})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, iss := range issues {
		if iss.Type == "sensitive_file_exposed" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected /.env exposure to be flagged")
	}
}

func TestAllReturnsEveryBuiltinCheckWithUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range All() {
		if c.ID() == "" {
			t.Fatal("check returned an empty ID")
		}
		if seen[c.ID()] {
			t.Fatalf("duplicate check ID: %s", c.ID())
		}
		seen[c.ID()] = true
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 built-in checks, got %d", len(seen))
	}
}
