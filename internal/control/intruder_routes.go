package control

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"intercept/internal/interr"
	"intercept/internal/payloads"
	"intercept/internal/repository"
)

func (a *API) listAttacks(w http.ResponseWriter, r *http.Request) {
	attacks, err := a.repo.ListAttacks(ctx(r), pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attacks)
}

func (a *API) createAttack(w http.ResponseWriter, r *http.Request) {
	var attack repository.Attack
	if err := readJSON(r, &attack); err != nil {
		writeError(w, interr.New("control.createAttack", interr.KindInvalidConfig, err))
		return
	}
	attack.ID = uuid.NewString()
	attack.Status = "configured"
	attack.CreatedAt = time.Now()
	if err := a.repo.PutAttack(ctx(r), &attack); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attack)
}

func (a *API) getAttack(w http.ResponseWriter, r *http.Request) {
	attack, err := a.repo.GetAttack(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attack)
}

func (a *API) deleteAttack(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.DeleteAttack(ctx(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) startAttack(w http.ResponseWriter, r *http.Request) {
	attack, err := a.repo.GetAttack(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.fuzzer.Start(attack); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attack)
}

func (a *API) pauseAttack(w http.ResponseWriter, r *http.Request) {
	if err := a.fuzzer.Pause(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) resumeAttack(w http.ResponseWriter, r *http.Request) {
	if err := a.fuzzer.Resume(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) stopAttack(w http.ResponseWriter, r *http.Request) {
	if err := a.fuzzer.Stop(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) listAttackResults(w http.ResponseWriter, r *http.Request) {
	results, err := a.repo.ListAttackResults(ctx(r), r.PathValue("id"), pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	type resultView struct {
		*repository.AttackResult
		BodySample string `json:"body_sample"`
	}
	out := make([]resultView, len(results))
	for i, res := range results {
		out[i] = resultView{AttackResult: res, BodySample: encodeBody(res.BodySample)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) listBuiltinPayloads(w http.ResponseWriter, r *http.Request) {
	names := payloads.List()
	sets := make([]payloads.Set, 0, len(names))
	for _, name := range names {
		if s, ok := payloads.Builtin(name); ok {
			sets = append(sets, s)
		}
	}
	writeJSON(w, http.StatusOK, sets)
}

func (a *API) getBuiltinPayload(w http.ResponseWriter, r *http.Request) {
	s, ok := payloads.Builtin(r.PathValue("name"))
	if !ok {
		writeError(w, interr.New("control.getBuiltinPayload", interr.KindNotFound, errControl("unknown payload set: "+r.PathValue("name"))))
		return
	}
	writeJSON(w, http.StatusOK, s)
}
