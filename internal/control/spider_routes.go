package control

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"intercept/internal/interr"
	"intercept/internal/repository"
)

func (a *API) listCrawlSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.repo.ListCrawlSessions(ctx(r), pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) createCrawlSession(w http.ResponseWriter, r *http.Request) {
	var session repository.CrawlSession
	if err := readJSON(r, &session); err != nil {
		writeError(w, interr.New("control.createCrawlSession", interr.KindInvalidConfig, err))
		return
	}
	session.ID = uuid.NewString()
	session.Status = "configured"
	session.CreatedAt = time.Now()
	if err := a.repo.PutCrawlSession(ctx(r), &session); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) getCrawlSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.repo.GetCrawlSession(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) deleteCrawlSession(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.DeleteCrawlSession(ctx(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) startCrawlSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.repo.GetCrawlSession(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.crawler.Start(session); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) pauseCrawlSession(w http.ResponseWriter, r *http.Request) {
	if err := a.crawler.Pause(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) resumeCrawlSession(w http.ResponseWriter, r *http.Request) {
	if err := a.crawler.Resume(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) stopCrawlSession(w http.ResponseWriter, r *http.Request) {
	if err := a.crawler.Stop(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (a *API) listCrawlURLs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	urls, err := a.repo.ListCrawlURLs(ctx(r), r.PathValue("id"), status, pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, urls)
}
