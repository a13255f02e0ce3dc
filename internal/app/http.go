package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"forum/api/internal/auth"
	"forum/api/internal/edit"
	"forum/api/internal/logger"
	"forum/api/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type HTTPOptions struct {
	CORSOrigin string
	Log        logger.Logger
	// Metrics is mounted at /metrics when set.
	Metrics   http.Handler
	EditRPS   float64
	EditBurst int
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        logger.Logger
	metrics    http.Handler
	limiter    *limiterPool
	done       chan struct{}
	closeOnce  sync.Once
}

func NewHTTPServer(service *Service, opts HTTPOptions) *HTTPServer {
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	s := &HTTPServer{
		service:    service,
		corsOrigin: opts.CORSOrigin,
		log:        log,
		metrics:    opts.Metrics,
		limiter:    newLimiterPool(opts.EditRPS, opts.EditBurst),
		done:       make(chan struct{}),
	}
	go s.limiter.run(time.Minute, s.done)
	return s
}

// Close stops background housekeeping.
func (s *HTTPServer) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.cors)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/api/ready", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/messages/{id}", func(r chi.Router) {
		r.Get("/edit", s.handleEditForm)
		r.Get("/commit", s.handleCommitForm)
		r.Post("/edit", s.handleSubmitEdit)
	})
	r.Post("/api/session/logout", s.handleLogout)
	return r
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ready(ctx) {
		if err == nil {
			checks[name] = map[string]any{"status": "ok"}
			continue
		}
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks[name] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleEditForm(w http.ResponseWriter, r *http.Request) {
	messageID, session, ok := s.messageRequest(w, r)
	if !ok {
		return
	}
	form, err := s.service.ShowEditForm(r.Context(), session.Actor, messageID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *HTTPServer) handleCommitForm(w http.ResponseWriter, r *http.Request) {
	messageID, session, ok := s.messageRequest(w, r)
	if !ok {
		return
	}
	form, err := s.service.ShowCommitForm(r.Context(), session.Actor, messageID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

func (s *HTTPServer) handleSubmitEdit(w http.ResponseWriter, r *http.Request) {
	messageID, session, ok := s.messageRequest(w, r)
	if !ok {
		return
	}
	if !s.limiter.Allow(limiterKey(r, session.Actor)) {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many edits, slow down", nil)
		return
	}

	var req EditRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	req.MessageID = messageID

	outcome, err := s.service.SubmitEdit(r.Context(), session.Actor, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	switch outcome.Status {
	case OutcomeSaved:
		w.Header().Set("Location", outcome.Redirect)
		writeJSON(w, http.StatusSeeOther, outcome)
	case OutcomeInvalid:
		writeJSON(w, http.StatusUnprocessableEntity, outcome)
	default:
		writeJSON(w, http.StatusOK, outcome)
	}
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.Identify(r.Context(), bearerToken(r))
	if err == nil {
		if err := s.service.Logout(r.Context(), session); err != nil {
			s.log.Warn("logout failed", logger.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// messageRequest parses the message id and identifies the caller, writing
// the error response itself when either fails.
func (s *HTTPServer) messageRequest(w http.ResponseWriter, r *http.Request) (int64, Session, bool) {
	messageID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || messageID <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid message id", nil)
		return 0, Session{}, false
	}
	session, err := s.service.Identify(r.Context(), bearerToken(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return 0, Session{}, false
	}
	return messageID, session, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HTTPServer) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w.Header(), s.corsOrigin)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(writer, r)

		s.log.Info("http_request",
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", writer.status),
			logger.Int("bytes", writer.bytes),
			logger.Duration("duration", time.Since(started)),
		)
	})
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Expose-Headers", "Location, X-Request-ID")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func limiterKey(r *http.Request, actor edit.Actor) string {
	if actor.Authenticated() {
		return "user:" + strconv.FormatInt(actor.ID, 10)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var editErr *edit.Error
	if errors.As(err, &editErr) {
		details := map[string]any{"kind": editErr.Kind}
		if editErr.Field != "" {
			details["field"] = editErr.Field
		}
		switch editErr.Kind {
		case edit.KindAuthorization:
			return http.StatusForbidden, editErr.Code, editErr.Message, details
		case edit.KindPolicy:
			return http.StatusBadRequest, editErr.Code, editErr.Message, details
		case edit.KindValidation:
			return http.StatusUnprocessableEntity, editErr.Code, editErr.Message, details
		case edit.KindNoop:
			return http.StatusOK, editErr.Code, editErr.Message, details
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
