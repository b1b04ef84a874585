package control

import (
	"net/http"
	"strconv"

	"intercept/internal/interr"
	"intercept/internal/repository"
)

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, _ := strconv.Atoi(q.Get("status"))
	filter := repository.ExchangeFilter{
		Method: q.Get("method"),
		Host:   q.Get("host"),
		Status: status,
		Search: q.Get("search"),
		Tag:    q.Get("tag"),
	}
	exchanges, err := a.repo.ListExchanges(ctx(r), filter, pageFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exchanges)
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request) {
	ex, err := a.repo.GetExchange(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var responseBody string
	if ex.Response != nil {
		responseBody = encodeBody(ex.Response.Body)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exchange":      ex,
		"request_body":  encodeBody(ex.Request.Body),
		"response_body": responseBody,
	})
}

func (a *API) deleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.DeleteExchange(ctx(r), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) clearRequests(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.ClearExchanges(ctx(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (a *API) tagRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tag string `json:"tag"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, interr.New("control.tagRequest", interr.KindInvalidConfig, err))
		return
	}
	ex, err := a.repo.GetExchange(ctx(r), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	ex.Tag = body.Tag
	if err := a.repo.UpdateExchange(ctx(r), ex); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}
