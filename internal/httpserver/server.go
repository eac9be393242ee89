// Package httpserver is the HTTP Adapter: it dispatches inbound requests
// to the configured route by exact path match, runs the route's pipeline,
// and maps the outcome to a status code.
package httpserver

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/loomgate/loomgate/internal/abi"
	"github.com/loomgate/loomgate/internal/config"
	"github.com/loomgate/loomgate/internal/metrics"
	"github.com/loomgate/loomgate/internal/pipeline"
)

// MaxBodyBytes is the largest request body accepted. One byte past this
// limit is read so an exactly-sized body is distinguished from an
// oversized one without buffering the oversized body in full.
const MaxBodyBytes = 65536

const maxBodyReadLimit = MaxBodyBytes + 1

// Server is the HTTP Adapter in front of one configured Route.
type Server struct {
	route   *config.RouteInternal
	logger  *zap.Logger
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

// New builds a Server for route, serving it at its exact Path and
// exposing /metrics alongside it.
func New(route *config.RouteInternal, logger *zap.Logger, reg *metrics.Metrics, promHandler http.Handler) *Server {
	s := &Server{route: route, logger: logger, metrics: reg}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoute)
	if promHandler != nil {
		mux.Handle("/metrics", promHandler)
	}
	s.mux = mux
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.route.Path {
		s.respond(w, r, http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyReadLimit))
	if err != nil {
		s.respond(w, r, http.StatusInternalServerError)
		return
	}
	if len(body) > MaxBodyBytes {
		// Oversized: reject before ever touching the pipeline, so no
		// GuestBuffer is allocated for this request at all.
		s.respond(w, r, http.StatusRequestEntityTooLarge)
		return
	}

	headers := flattenHeaders(r.Header)
	req := &pipeline.Request{
		Body:    body,
		Headers: headers,
		Method:  abi.HttpMethodFromString(r.Method),
		Version: abi.HttpVersionFromProto(r.Proto),
	}

	outcome := pipeline.Execute(r.Context(), s.logger, s.metrics, s.route.Path, s.route.Pipeline, req)

	switch outcome.Kind {
	case pipeline.Continue:
		s.respond(w, r, http.StatusOK)
	case pipeline.Rejected:
		w.WriteHeader(http.StatusForbidden)
		if outcome.Err != nil {
			_, _ = w.Write([]byte(outcome.Err.Message))
		}
		s.countStatus(r, http.StatusForbidden)
		if s.logger != nil {
			s.logger.Info("request rejected",
				zap.String("path", r.URL.Path),
				zap.String("step", outcome.Step),
				zap.Any("error", outcome.Err))
		}
	case pipeline.HostError:
		s.respond(w, r, http.StatusBadGateway)
		if s.logger != nil {
			s.logger.Error("request failed with host error",
				zap.String("path", r.URL.Path),
				zap.String("step", outcome.Step),
				zap.Error(outcome.HostErr))
		}
	default:
		s.respond(w, r, http.StatusInternalServerError)
	}
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int) {
	w.WriteHeader(status)
	s.countStatus(r, status)
}

func (s *Server) countStatus(r *http.Request, status int) {
	if s.metrics == nil {
		return
	}
	s.metrics.HTTPRequests.WithLabelValues(r.URL.Path, strconv.Itoa(status)).Inc()
}

// flattenHeaders lowercases header names, matching the wire convention
// guest validators are written against (e.g. "x-hub-signature-256").
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[strings.ToLower(k)] = vs[0]
		}
	}
	return out
}

// ListenAndServe starts the HTTP listener on addr and blocks until
// ctx is cancelled or the server errors.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
