// Package server implements the BioIndex HTTP façade: the /api/bio
// REST routes, health/liveness/readiness/startup probes, and the
// shared middleware stack (panic recovery, request ID propagation).
package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/bioindex/internal/errors"
	"github.com/3leaps/bioindex/internal/server/handlers"
	"github.com/3leaps/bioindex/internal/server/middleware"
	"github.com/3leaps/bioindex/pkg/catalog"
	"github.com/3leaps/bioindex/pkg/locus"
	"github.com/3leaps/bioindex/pkg/planner"
)

// Server is the bound BioIndex HTTP façade.
type Server struct {
	host string
	port int

	planner *planner.Planner
	cat     *catalog.Catalog
	limit   int64

	router chi.Router
}

// New constructs a Server listening on host:port. The planner and
// catalog are wired in afterward via Attach, so the router (and its
// 404/405/health routes) can be exercised before the backing store is
// available.
func New(host string, port int) *Server {
	s := &Server{host: host, port: port}
	s.router = s.buildRouter()
	return s
}

// Attach wires the query engine into a Server built by New. Must be
// called before the server starts accepting /api/bio/* traffic.
// responseLimit is echoed in response envelopes so clients can size
// their continuation loops; zero reports it as null.
func (s *Server) Attach(cat *catalog.Catalog, pl *planner.Planner, responseLimit int64) {
	s.cat = cat
	s.planner = pl
	s.limit = responseLimit
}

// Handler returns the Server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the port the Server was constructed with.
func (s *Server) Port() int {
	return s.port
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeAPIError(w, req, http.StatusNotFound, apperrors.CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeAPIError(w, req, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)

	r.Get("/version", s.handleVersion)

	r.Route("/api/bio", func(api chi.Router) {
		api.Get("/indexes", s.handleListIndexes)
		api.Get("/query/{index}", s.handleQuery)
		api.Post("/query", s.handleQueryBody)
		api.Get("/count/{index}", s.handleCount)
		api.Get("/match/{index}", s.handleMatch)
		api.Get("/all/{index}", s.handleAll)
		api.Get("/cont", s.handleContinuation)
	})

	if token := adminToken(); token != "" {
		r.Post("/admin/signal", s.handleAdminSignal(token))
	}

	return r
}

// writeAPIError writes a standalone error response (not routed through
// respondWithError, since 404/405 are synthesized by the router itself
// rather than carrying an underlying error value).
func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	resp := apperrors.HTTPErrorResponse{Error: apperrors.HTTPError{Code: code, Message: message}}
	if rid := r.Header.Get(middleware.RequestIDHeader); rid != "" {
		resp.Error.RequestID = rid
	}
	apperrors.WriteJSON(w, status, resp)
}

// adminToken returns the configured admin token, preferring the
// application's own env var over the generic Workhorse Standard
// fallback, or "" if neither is set (which disables the endpoint).
func adminToken() string {
	if t := os.Getenv("BIOINDEX_ADMIN_TOKEN"); t != "" {
		return t
	}
	return os.Getenv("WORKHORSE_ADMIN_TOKEN")
}

func (s *Server) handleAdminSignal(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Token") != token {
			writeAPIError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token")
			return
		}
		apperrors.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, map[string]string{"version": "dev"})
}

func (s *Server) notReady(w http.ResponseWriter, r *http.Request) bool {
	if s.planner == nil || s.cat == nil {
		writeAPIError(w, r, http.StatusServiceUnavailable, apperrors.CodeServiceUnavail, "query engine not attached")
		return true
	}
	return false
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	if s.notReady(w, r) {
		return
	}
	specs, err := s.cat.List(r.Context())
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": specs})
}

// buildQuery resolves a key/locus filter from request parameters. An
// empty locus token is treated as "no locus filter"; a non-empty one
// that fails to parse surfaces the parser's bioerr.InvalidLocus.
func buildQuery(keys []string, locusToken string) (planner.Query, error) {
	q := planner.Query{KeyValues: keys}
	if locusToken == "" {
		return q, nil
	}
	parsed, err := locus.Parse(locusToken, nil)
	if err != nil {
		return planner.Query{}, err
	}
	q.Locus = parsed
	return q, nil
}

// streamToEnvelope runs stream (one of Planner.Query/All/Resume) into a
// buffer and repackages the NDJSON lines it wrote into the response
// envelope (continuation, count, page, data, profile, progress, ...)
// the REST façade promises. format=column pivots data from a record
// array into per-column arrays.
func (s *Server) streamToEnvelope(w http.ResponseWriter, r *http.Request, index string, stream func(w *bytes.Buffer) (*planner.StreamResult, error)) {
	var buf bytes.Buffer
	res, err := stream(&buf)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	var rows []json.RawMessage
	for _, line := range bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		rows = append(rows, json.RawMessage(append([]byte(nil), line...)))
	}

	var data interface{} = rows
	if r.URL.Query().Get("format") == "column" {
		cols, err := pivotColumns(rows)
		if err != nil {
			apperrors.RespondWithError(w, r, err)
			return
		}
		data = cols
	}

	resp := map[string]interface{}{
		"data":         data,
		"count":        len(rows),
		"page":         res.Page,
		"q":            res.Q,
		"continuation": nil,
		"limit":        nil,
		"profile":      map[string]float64{"query": res.QuerySeconds, "fetch": res.FetchSeconds},
		"progress":     map[string]int64{"bytes_read": res.BytesRead, "bytes_total": res.BytesTotal},
	}
	if index != "" {
		resp["index"] = index
	}
	if res.Continuation != "" {
		resp["continuation"] = res.Continuation
	}
	if s.limit > 0 {
		resp["limit"] = s.limit
	}
	apperrors.WriteJSON(w, http.StatusOK, resp)
}

// pivotColumns turns a record array into one array per column, with
// nulls where a record lacks a column that others carry.
func pivotColumns(rows []json.RawMessage) (map[string][]interface{}, error) {
	cols := make(map[string][]interface{})
	for i, raw := range rows {
		var rec map[string]interface{}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		for k, v := range rec {
			if _, ok := cols[k]; !ok {
				cols[k] = make([]interface{}, i)
			}
			cols[k] = append(cols[k], v)
		}
		for k := range cols {
			if len(cols[k]) == i {
				cols[k] = append(cols[k], nil)
			}
		}
	}
	return cols, nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.notReady(w, r) {
		return
	}
	index := chi.URLParam(r, "index")
	q, err := buildQuery(r.URL.Query()["key"], r.URL.Query().Get("locus"))
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	s.streamToEnvelope(w, r, index, func(buf *bytes.Buffer) (*planner.StreamResult, error) {
		return s.planner.Query(r.Context(), index, q, buf)
	})
}

func (s *Server) handleQueryBody(w http.ResponseWriter, r *http.Request) {
	if s.notReady(w, r) {
		return
	}
	var body struct {
		Index string   `json:"index"`
		Keys  []string `json:"keys"`
		Locus string   `json:"locus"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "MalformedSchema", "malformed request body")
		return
	}
	q, err := buildQuery(body.Keys, body.Locus)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	s.streamToEnvelope(w, r, body.Index, func(buf *bytes.Buffer) (*planner.StreamResult, error) {
		return s.planner.Query(r.Context(), body.Index, q, buf)
	})
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	if s.notReady(w, r) {
		return
	}
	index := chi.URLParam(r, "index")
	s.streamToEnvelope(w, r, index, func(buf *bytes.Buffer) (*planner.StreamResult, error) {
		return s.planner.All(r.Context(), index, buf)
	})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if s.notReady(w, r) {
		return
	}
	index := chi.URLParam(r, "index")
	q, err := buildQuery(r.URL.Query()["key"], r.URL.Query().Get("locus"))
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	count, err := s.planner.Count(r.Context(), index, q)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"index": index, "count": count})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if s.notReady(w, r) {
		return
	}
	index := chi.URLParam(r, "index")
	prefix := r.URL.Query().Get("prefix")
	matches, err := s.planner.Match(r.Context(), index, prefix)
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, map[string]interface{}{"index": index, "data": matches})
}

func (s *Server) handleContinuation(w http.ResponseWriter, r *http.Request) {
	if s.notReady(w, r) {
		return
	}
	token := r.URL.Query().Get("token")
	s.streamToEnvelope(w, r, "", func(buf *bytes.Buffer) (*planner.StreamResult, error) {
		return s.planner.Resume(r.Context(), token, buf)
	})
}
