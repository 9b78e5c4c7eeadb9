package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/blacktop/xpostd/internal/publish"
	"github.com/blacktop/xpostd/internal/queue"
	"github.com/blacktop/xpostd/internal/xpost"
)

func (s *Server) service(w http.ResponseWriter, r *http.Request) (*publish.Service, bool) {
	svc, err := s.registry.Get(r.Context(), destination(r))
	if err == nil {
		return svc, true
	}

	var ve xpost.ValidationError
	var me xpost.MissingEnvError
	switch {
	case errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	case errors.As(err, &ve), errors.As(err, &me):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("destination setup failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
	return nil, false
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	req, err := decodePost(r)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.CorrelationID = r.Header.Get(headerCorrelationID)

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	res, err := svc.Publish(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, statusFor(res), res)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	caption, pri, dryRun, err := decodeUpdate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	svc, ok := s.service(w, r)
	if !ok {
		return
	}

	res := svc.UpdatePost(r.Context(), chi.URLParam(r, "id"), caption, pri, dryRun)
	writeJSON(w, statusFor(res), res)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.registry.GlobalStats()
	out := map[string]any{
		"destinations": stats.Destinations,
		"general":      stats.General,
		"platforms":    s.registry.Platforms(),
	}
	if s.events != nil {
		out["events"] = map[string]any{
			"subscribers": s.events.Subscribers(),
			"dropped":     s.events.Dropped(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	svc, ok := s.service(w, r)
	if !ok {
		return
	}
	id := svc.Validate(r.Context(), force)
	code := http.StatusOK
	if !id.Valid {
		code = http.StatusUnauthorized
	}
	writeJSON(w, code, id)
}

// statusFor maps a terminal result onto an HTTP status.
func statusFor(res xpost.Result) int {
	if res.Success {
		return http.StatusOK
	}
	if res.Error == nil {
		return http.StatusBadGateway
	}
	switch res.Error.Code {
	case publish.CodeRateLimited:
		return http.StatusTooManyRequests
	case publish.CodeShutdown:
		return http.StatusServiceUnavailable
	case publish.CodeNoAction:
		return http.StatusUnprocessableEntity
	case publish.CodeNotSupported:
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}
