package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Petergatsby/GleepostViews/lib/gp"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	base.Handle("/posts/{id}/views", timeHandler(http.HandlerFunc(postPostView))).Methods("POST")
	base.Handle("/posts/{id}/views", timeHandler(http.HandlerFunc(optionsHandler))).Methods("OPTIONS")
	base.Handle("/posts/{id}/views", timeHandler(http.HandlerFunc(unsupportedHandler)))
	base.Handle("/views/posts", timeHandler(http.HandlerFunc(postPostViews))).Methods("POST")
	base.Handle("/views/posts", timeHandler(http.HandlerFunc(optionsHandler))).Methods("OPTIONS")
	base.Handle("/views/posts", timeHandler(http.HandlerFunc(unsupportedHandler)))
	base.Handle("/admin/views/sync", timeHandler(http.HandlerFunc(postViewSync))).Methods("POST")
	base.Handle("/admin/views/sync", timeHandler(http.HandlerFunc(unsupportedHandler)))
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

//maxBatchBody bounds a batch request body; twenty views fit many times over.
const maxBatchBody = 64 << 10

//viewer is the user the request is on behalf of. Authentication happens upstream; we only trust what it passes on.
func viewer(r *http.Request) gp.UserID {
	if user := r.Header.Get("X-GP-User"); user != "" {
		return gp.UserID(user)
	}
	return gp.UserID(r.FormValue("id"))
}

//viewErr maps an error from the view API onto a status code.
func viewErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gp.ENOSUCHPOST):
		jsonErr(w, err, 404)
	case errors.Is(err, gp.EBATCHTOOLARGE):
		jsonErr(w, err, 400)
	case gp.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		jsonErr(w, err, 503)
	default:
		jsonErr(w, err, 500)
	}
}

func postPostView(w http.ResponseWriter, r *http.Request) {
	user := viewer(r)
	if user == "" {
		jsonResponse(w, missingParamErr("id"), 400)
		return
	}
	post := gp.PostID(mux.Vars(r)["id"])
	result, err := api.RegisterView(r.Context(), post, user)
	if err != nil {
		viewErr(w, err)
		return
	}
	jsonResponse(w, result, 200)
}

//postPostViews takes either a bare list of views, [{"post":"1"},{"post":"2"}], or {"posts":["1","2"]}.
func postPostViews(w http.ResponseWriter, r *http.Request) {
	user := viewer(r)
	if user == "" {
		jsonResponse(w, missingParamErr("id"), 400)
		return
	}
	views, err := decodeViews(io.LimitReader(r.Body, maxBatchBody))
	if err != nil {
		jsonErr(w, err, 400)
		return
	}
	now := time.Now().UTC()
	for i := range views {
		views[i].User = user
		views[i].Time = now
	}
	result, err := api.RegisterViewsBatch(r.Context(), views)
	if err != nil {
		viewErr(w, err)
		return
	}
	jsonResponse(w, result, 200)
}

func decodeViews(body io.Reader) (views []gp.PostView, err error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, missingParamErr("posts")
	}
	if raw[0] == '[' {
		err = json.Unmarshal(raw, &views)
		return
	}
	var wrapped struct {
		Posts []gp.PostID `json:"posts"`
	}
	if err = json.Unmarshal(raw, &wrapped); err != nil {
		return
	}
	views = make([]gp.PostView, len(wrapped.Posts))
	for i, p := range wrapped.Posts {
		views[i].Post = p
	}
	return views, nil
}

func postViewSync(w http.ResponseWriter, r *http.Request) {
	report := api.TriggerViewSync(r.Context())
	jsonResponse(w, report, 200)
}
