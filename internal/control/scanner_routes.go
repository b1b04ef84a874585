package control

import (
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"intercept/internal/interr"
	"intercept/internal/repository"
	"intercept/internal/scanner/checks"
)

func (a *API) listChecks(w http.ResponseWriter, r *http.Request) {
	all := checks.All()
	ids := make([]string, len(all))
	for i, c := range all {
		ids[i] = c.ID()
	}
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, ids)
}

func (a *API) listScans(w http.ResponseWriter, r *http.Request) {
	scans, err := a.repo.ListScans(ctx(r), pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (a *API) createScan(w http.ResponseWriter, r *http.Request) {
	var scan repository.Scan
	if err := readJSON(r, &scan); err != nil {
		writeError(w, interr.New("control.createScan", interr.KindInvalidConfig, err))
		return
	}
	scan.ID = uuid.NewString()
	scan.Status = "configured"
	scan.CreatedAt = time.Now()
	if err := a.repo.PutScan(ctx(r), &scan); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, scan)
}

func (a *API) getScan(w http.ResponseWriter, r *http.Request) {
	scan, err := a.repo.GetScan(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

func (a *API) deleteScan(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.DeleteScan(ctx(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) startScan(w http.ResponseWriter, r *http.Request) {
	scan, err := a.repo.GetScan(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.scanner.Start(scan); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

func (a *API) pauseScan(w http.ResponseWriter, r *http.Request) {
	if err := a.scanner.Pause(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) stopScan(w http.ResponseWriter, r *http.Request) {
	if err := a.scanner.Stop(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) listIssues(w http.ResponseWriter, r *http.Request) {
	severity := r.URL.Query().Get("severity")
	issues, err := a.repo.ListIssues(ctx(r), r.PathValue("id"), severity, pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if t := r.URL.Query().Get("type"); t != "" {
		filtered := issues[:0]
		for _, issue := range issues {
			if issue.Type == t {
				filtered = append(filtered, issue)
			}
		}
		issues = filtered
	}
	if s := r.URL.Query().Get("status"); s != "" {
		filtered := issues[:0]
		for _, issue := range issues {
			if issue.Status == s {
				filtered = append(filtered, issue)
			}
		}
		issues = filtered
	}
	writeJSON(w, http.StatusOK, issues)
}

func (a *API) scanSummary(w http.ResponseWriter, r *http.Request) {
	issues, err := a.repo.ListIssues(ctx(r), r.PathValue("id"), "", repository.Page{Limit: 100000})
	if err != nil {
		writeError(w, err)
		return
	}
	counts := map[string]int{"critical": 0, "high": 0, "medium": 0, "low": 0, "info": 0}
	for _, issue := range issues {
		counts[issue.Severity]++
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(issues), "by_severity": counts})
}

func (a *API) updateIssue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, interr.New("control.updateIssue", interr.KindInvalidConfig, err))
		return
	}
	issue := &repository.Issue{ID: r.PathValue("id"), Status: body.Status}
	if err := a.repo.UpdateIssue(ctx(r), issue); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}
