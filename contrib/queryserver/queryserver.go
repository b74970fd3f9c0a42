// Package queryserver exposes a transport.Transport's Query method over
// HTTP: POST a JSON document describing a time window, level filter,
// search term, and optional structural predicate, get back the matching
// records as JSON.
package queryserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"logtransport/compression"
	"logtransport/query"
	"logtransport/querydsl"
	"logtransport/record"
	"logtransport/transport"
)

// Config controls the HTTP listener.
type Config struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig listens on :8089.
func DefaultConfig() Config {
	return Config{Addr: ":8089"}
}

// Server answers queries against a wrapped transport.Transport over HTTP.
type Server struct {
	cfg        Config
	source     transport.Transport
	logger     *logrus.Logger
	router     *mux.Router
	http       *http.Server
	compressor *compression.Compressor
}

// New builds a Server that answers queries against source.
func New(cfg Config, source transport.Transport, logger *logrus.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	s := &Server{
		cfg:        cfg,
		source:     source,
		logger:     logger,
		router:     mux.NewRouter(),
		compressor: compression.New(compression.Config{}),
	}
	s.registerRoutes()
	s.http = &http.Server{Addr: cfg.Addr, Handler: s.router}
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.WithField("addr", s.cfg.Addr).Info("query server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// queryRequest is the JSON surface syntax this server accepts. Every field
// is optional; omitted fields keep query.New's defaults.
type queryRequest struct {
	From   string                 `json:"from"`
	Until  string                 `json:"until"`
	Levels []string               `json:"levels"`
	Fields []string               `json:"fields"`
	Search string                 `json:"search"`
	Limit  *int                   `json:"limit"`
	Start  *int                   `json:"start"`
	Order  string                 `json:"order"`
	Filter map[string]interface{} `json:"filter"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON query document: %v", err), http.StatusBadRequest)
		return
	}

	q := query.New()
	if req.From != "" {
		q = q.WithFromString(req.From)
	}
	if req.Until != "" {
		q = q.WithUntilString(req.Until)
	}
	if len(req.Levels) > 0 {
		q = q.WithLevels(req.Levels...)
	}
	if len(req.Fields) > 0 {
		q = q.WithFields(req.Fields...)
	}
	if req.Limit != nil {
		q = q.WithLimit(*req.Limit)
	}
	if req.Start != nil {
		q = q.WithStart(*req.Start)
	}
	if req.Order == "asc" {
		q = q.WithOrder(query.Ascending)
	}
	if req.Search != "" {
		var err error
		q, err = q.WithSearchTerm(req.Search)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid search term: %v", err), http.StatusBadRequest)
			return
		}
	}
	if len(req.Filter) > 0 {
		node, err := querydsl.ParseJSONValue(req.Filter)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid filter: %v", err), http.StatusBadRequest)
			return
		}
		q = q.WithFilter(dslFilter{node: node})
	}

	results, err := s.source.Query(q)
	if err != nil {
		http.Error(w, fmt.Sprintf("query failed: %v", err), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, r, projectAll(q, results))
}

// writeJSON encodes v as JSON, gzip-compressing the payload when the
// client advertises support and the body clears the compressor's size
// threshold.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("encoding response: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		if res, err := s.compressor.Compress(payload, compression.AlgorithmGzip, "http"); err == nil && res.Algorithm != compression.AlgorithmNone {
			w.Header().Set("Content-Encoding", res.Encoding)
			w.Write(res.Data)
			return
		}
	}
	w.Write(payload)
}

func projectAll(q query.LogQuery, records []record.LogRecord) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, q.Project(r))
	}
	return out
}

// dslFilter adapts a querydsl.QueryNode (Evaluate(value any) bool) to
// query.Filter (Evaluate(tree map[string]any) bool).
type dslFilter struct {
	node querydsl.QueryNode
}

func (f dslFilter) Evaluate(tree map[string]any) bool {
	return f.node.Evaluate(tree)
}
