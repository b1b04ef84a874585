package control

import (
	"net/http"

	"github.com/google/uuid"

	"intercept/internal/interr"
	"intercept/internal/rules"
)

func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	rs, err := a.repo.ListRules(ctx(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := readJSON(r, &rule); err != nil {
		writeError(w, interr.New("control.createRule", interr.KindInvalidConfig, err))
		return
	}
	rule.ID = uuid.NewString()
	if err := a.repo.PutRule(ctx(r), &rule); err != nil {
		writeError(w, err)
		return
	}
	a.reloadRules(r)
	writeJSON(w, http.StatusCreated, rule)
}

func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := readJSON(r, &rule); err != nil {
		writeError(w, interr.New("control.updateRule", interr.KindInvalidConfig, err))
		return
	}
	rule.ID = r.PathValue("id")
	if err := a.repo.UpdateRule(ctx(r), &rule); err != nil {
		writeError(w, err)
		return
	}
	a.reloadRules(r)
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.DeleteRule(ctx(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	a.reloadRules(r)
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) toggleRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, interr.New("control.toggleRule", interr.KindInvalidConfig, err))
		return
	}
	id := r.PathValue("id")
	rs, err := a.repo.ListRules(ctx(r))
	if err != nil {
		writeError(w, err)
		return
	}
	found := false
	var updated rules.Rule
	for _, rule := range rs {
		if rule.ID == id {
			rule.Enabled = body.Enabled
			updated = rule
			found = true
			break
		}
	}
	if !found {
		writeError(w, interr.New("control.toggleRule", interr.KindNotFound, errControl("rule not found: "+id)))
		return
	}
	if err := a.repo.UpdateRule(ctx(r), &updated); err != nil {
		writeError(w, err)
		return
	}
	a.reloadRules(r)
	writeJSON(w, http.StatusOK, updated)
}

// reloadRules reloads the live rule engine from the repository's current
// rule set after any mutation, so in-flight exchanges see the change
// immediately.
func (a *API) reloadRules(r *http.Request) {
	rs, err := a.repo.ListRules(ctx(r))
	if err != nil {
		return
	}
	a.rulesEng.Load(rs)
}
