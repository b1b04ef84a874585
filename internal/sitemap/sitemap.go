// Package sitemap rebuilds a hierarchical target tree from captured
// traffic history, as a pure function the control layer's transport
// handlers call into rather than building the tree themselves.
package sitemap

import (
	"net/url"
	"sort"
	"strings"

	"intercept/internal/exchange"
)

// Node is one path segment of a host's site map.
type Node struct {
	Segment  string   `json:"segment"`
	Methods  []string `json:"methods,omitempty"`
	Children []*Node  `json:"children,omitempty"`
}

// Host is the root of one origin's site map.
type Host struct {
	Host         string `json:"host"`
	RequestCount int    `json:"request_count"`
	Root         *Node  `json:"root"`
}

// Build groups exchanges by host and folds each request's path into a
// segment tree, recording which HTTP methods were observed at each node.
func Build(exchanges []*exchange.Exchange) []*Host {
	byHost := make(map[string]*Host)
	order := make([]string, 0)

	for _, ex := range exchanges {
		if ex == nil {
			continue
		}
		host := ex.Request.Host
		if host == "" {
			continue
		}

		h, ok := byHost[host]
		if !ok {
			h = &Host{Host: host, Root: &Node{Segment: "/"}}
			byHost[host] = h
			order = append(order, host)
		}
		h.RequestCount++

		segments := pathSegments(ex.Request.PathQuery)
		insert(h.Root, segments, ex.Request.Method)
	}

	sort.Strings(order)
	out := make([]*Host, 0, len(order))
	for _, host := range order {
		sortTree(byHost[host].Root)
		out = append(out, byHost[host])
	}
	return out
}

func pathSegments(pathQuery string) []string {
	p := pathQuery
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if u, err := url.PathUnescape(p); err == nil {
		p = u
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func insert(node *Node, segments []string, method string) {
	if len(segments) == 0 {
		node.Methods = addMethod(node.Methods, method)
		return
	}

	head, rest := segments[0], segments[1:]
	var child *Node
	for _, c := range node.Children {
		if c.Segment == head {
			child = c
			break
		}
	}
	if child == nil {
		child = &Node{Segment: head}
		node.Children = append(node.Children, child)
	}
	insert(child, rest, method)
}

func addMethod(methods []string, method string) []string {
	for _, m := range methods {
		if m == method {
			return methods
		}
	}
	return append(methods, method)
}

func sortTree(node *Node) {
	sort.Strings(node.Methods)
	sort.Slice(node.Children, func(i, j int) bool { return node.Children[i].Segment < node.Children[j].Segment })
	for _, c := range node.Children {
		sortTree(c)
	}
}
