package control

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"intercept/internal/interr"
	"intercept/internal/repository"
	"intercept/internal/sequencer"
)

func (a *API) listTokenAnalyses(w http.ResponseWriter, r *http.Request) {
	analyses, err := a.repo.ListTokenAnalyses(ctx(r), pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analyses)
}

func (a *API) createTokenAnalysis(w http.ResponseWriter, r *http.Request) {
	var analysis repository.TokenAnalysis
	if err := readJSON(r, &analysis); err != nil {
		writeError(w, interr.New("control.createTokenAnalysis", interr.KindInvalidConfig, err))
		return
	}
	analysis.ID = uuid.NewString()
	analysis.Status = "collecting"
	analysis.CreatedAt = time.Now()
	if err := a.repo.PutTokenAnalysis(ctx(r), &analysis); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, analysis)
}

func (a *API) getTokenAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := a.repo.GetTokenAnalysis(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (a *API) deleteTokenAnalysis(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.DeleteTokenAnalysis(ctx(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) appendTokenSamples(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Samples []string `json:"samples"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, interr.New("control.appendTokenSamples", interr.KindInvalidConfig, err))
		return
	}
	analysis, err := a.repo.GetTokenAnalysis(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	analysis.Samples = append(analysis.Samples, body.Samples...)
	if err := a.repo.UpdateTokenAnalysis(ctx(r), analysis); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (a *API) analyzeTokenAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := a.repo.GetTokenAnalysis(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(analysis.Samples) == 0 {
		writeError(w, interr.New("control.analyzeTokenAnalysis", interr.KindInvalidConfig, errControl("no samples collected yet")))
		return
	}
	result := sequencer.Analyze(analysis.Samples)
	analysis.Status = "analyzed"
	analysis.TargetCount = result.Count
	if err := a.repo.UpdateTokenAnalysis(ctx(r), analysis); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) resetTokenAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := a.repo.GetTokenAnalysis(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	analysis.Samples = nil
	analysis.Status = "collecting"
	if err := a.repo.UpdateTokenAnalysis(ctx(r), analysis); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (a *API) analyzeTokensStateless(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tokens []string `json:"tokens"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, interr.New("control.analyzeTokensStateless", interr.KindInvalidConfig, err))
		return
	}
	writeJSON(w, http.StatusOK, sequencer.Analyze(body.Tokens))
}
