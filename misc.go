package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Petergatsby/GleepostViews/lib"
	"github.com/Petergatsby/GleepostViews/lib/conf"
	"github.com/Petergatsby/GleepostViews/lib/gp"
	"github.com/Petergatsby/GleepostViews/lib/logging"
	"github.com/gorilla/mux"
)

var (
	api    *lib.API
	config *conf.Config
)

func init() {
	base.HandleFunc("/", optionsHandler).Methods("OPTIONS")
	r.NotFoundHandler = http.HandlerFunc(notFoundHandler)
}

//EUNSUPPORTED = 405
var EUNSUPPORTED = gp.APIerror{Reason: "Method not supported"}

//ENOTFOUND = 404
var ENOTFOUND = gp.APIerror{Reason: "404 not found"}

func optionsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(200)
}

func unsupportedHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, &EUNSUPPORTED, 405)
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, &ENOTFOUND, 404)
}

func ascii() {
	fmt.Println(`  ________.__                                       __   `)
	fmt.Println(` /  _____/|  |   ____   ____ ______   ____  _______/  |_ `)
	fmt.Println(`/   \  ___|  | _/ __ \_/ __ \\____ \ /  _ \/  ___/\   __\`)
	fmt.Println(`\    \_\  \  |_\  ___/\  ___/|  |_> >  <_> )___ \  |  |  `)
	fmt.Println(` \______  /____/\___  >\___  >   __/ \____/____  > |__|  `)
	fmt.Println(`        \/          \/     \/|__|      views   \/        `)
}

func missingParamErr(param string) *gp.APIerror {
	return &gp.APIerror{Reason: "Missing parameter: " + param}
}

func jsonResponse(w http.ResponseWriter, resp interface{}, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	marshaled, err := json.Marshal(resp)
	if err != nil {
		marshaled, _ = json.Marshal(gp.APIerror{Reason: err.Error()})
		w.WriteHeader(500)
		w.Write(marshaled)
	} else {
		w.WriteHeader(code)
		w.Write(marshaled)
	}
}

func jsonErr(w http.ResponseWriter, err error, code int) {
	var apiErr gp.APIerror
	switch {
	case errors.As(err, &apiErr):
		jsonResponse(w, apiErr, code)
	default:
		jsonResponse(w, gp.APIerror{Reason: err.Error()}, code)
	}
}

//timeHandler reports how long next took to statsd, under the route's path template.
func timeHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if api == nil {
			return
		}
		bucket := "gleepost.http" + routeName(r) + "." + r.Method
		api.Statter.Time(start, bucket)
		logging.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("Handled request")
	})
}

//routeName turns /api/{version}/posts/{id}/views into .posts.id.views
func routeName(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	tpl = strings.TrimPrefix(tpl, "/api/{version}")
	tpl = strings.NewReplacer("{", "", "}", "", "/", ".").Replace(tpl)
	return tpl
}

//httpService runs the HTTP server under the supervisor.
type httpService struct {
	server *http.Server
}

func (h *httpService) Serve(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()
	select {
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.server.Shutdown(sctx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errs
		return ctx.Err()
	}
}

func (h *httpService) String() string {
	return "http-server"
}
