package sitemap

import (
	"testing"

	"intercept/internal/exchange"
)

func ex(host, method, pathQuery string) *exchange.Exchange {
	return &exchange.Exchange{
		Request: exchange.Request{Method: method, Host: host, PathQuery: pathQuery},
	}
}

func TestBuildGroupsByHost(t *testing.T) {
	hosts := Build([]*exchange.Exchange{
		ex("a.example.com", "GET", "/foo"),
		ex("b.example.com", "GET", "/bar"),
	})
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(hosts))
	}
	if hosts[0].Host != "a.example.com" || hosts[1].Host != "b.example.com" {
		t.Fatalf("expected hosts sorted alphabetically, got %v", []string{hosts[0].Host, hosts[1].Host})
	}
}

func TestBuildFoldsPathIntoTree(t *testing.T) {
	hosts := Build([]*exchange.Exchange{
		ex("x.example.com", "GET", "/api/users"),
		ex("x.example.com", "POST", "/api/users"),
		ex("x.example.com", "GET", "/api/users/1"),
	})
	if len(hosts) != 1 {
		t.Fatalf("expected 1 host, got %d", len(hosts))
	}
	root := hosts[0].Root
	if len(root.Children) != 1 || root.Children[0].Segment != "api" {
		t.Fatalf("expected single 'api' child, got %+v", root.Children)
	}
	users := root.Children[0].Children[0]
	if users.Segment != "users" {
		t.Fatalf("expected 'users' segment, got %q", users.Segment)
	}
	if len(users.Methods) != 2 || users.Methods[0] != "GET" || users.Methods[1] != "POST" {
		t.Fatalf("expected GET and POST on /api/users, got %v", users.Methods)
	}
	if len(users.Children) != 1 || users.Children[0].Segment != "1" {
		t.Fatalf("expected a '1' child under users, got %+v", users.Children)
	}
}

func TestBuildSkipsNilAndHostlessExchanges(t *testing.T) {
	hosts := Build([]*exchange.Exchange{nil, ex("", "GET", "/x")})
	if len(hosts) != 0 {
		t.Fatalf("expected no hosts, got %d", len(hosts))
	}
}

func TestBuildCountsRequestsPerHost(t *testing.T) {
	hosts := Build([]*exchange.Exchange{
		ex("a.example.com", "GET", "/1"),
		ex("a.example.com", "GET", "/2"),
	})
	if hosts[0].RequestCount != 2 {
		t.Fatalf("expected request count 2, got %d", hosts[0].RequestCount)
	}
}
