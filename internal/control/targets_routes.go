package control

import (
	"net/http"

	"intercept/internal/repository"
	"intercept/internal/sitemap"
)

// targetsSitemap rebuilds the site-map tree from captured traffic
// history. Host.Root is already the tree, and a caller wanting the flat
// form walks it client-side — there is nothing the server holds that a
// second representation would expose.
func (a *API) targetsSitemap(w http.ResponseWriter, r *http.Request) {
	hosts, err := a.buildSitemap(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hosts)
}

// listTargets returns each distinct host with its request count, without
// the path tree.
func (a *API) listTargets(w http.ResponseWriter, r *http.Request) {
	hosts, err := a.buildSitemap(r)
	if err != nil {
		writeError(w, err)
		return
	}
	type summary struct {
		Host         string `json:"host"`
		RequestCount int    `json:"request_count"`
	}
	out := make([]summary, len(hosts))
	for i, h := range hosts {
		out[i] = summary{Host: h.Host, RequestCount: h.RequestCount}
	}
	writeJSON(w, http.StatusOK, out)
}

// rebuildSitemap re-derives the site map from the current exchange
// history. Build holds nothing in memory between calls, so this has the
// same effect as a fresh GET — it exists as an explicit trigger for
// callers that want to distinguish "recompute now" from "read cache".
func (a *API) rebuildSitemap(w http.ResponseWriter, r *http.Request) {
	a.targetsSitemap(w, r)
}

func (a *API) buildSitemap(r *http.Request) ([]*sitemap.Host, error) {
	exchanges, err := a.repo.ListExchanges(ctx(r), repository.ExchangeFilter{}, repository.Page{Limit: 100000})
	if err != nil {
		return nil, err
	}
	return sitemap.Build(exchanges), nil
}
