// Package server exposes the verification pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/nocap/internal/model"
	"github.com/ppiankov/nocap/internal/rag"
	"github.com/ppiankov/nocap/internal/store"
	"github.com/ppiankov/nocap/internal/verify"
)

const maxBodyBytes = 1 << 20

// Verifier runs claims through the pipeline
type Verifier interface {
	Verify(ctx context.Context, q model.ClaimQuery) (*verify.Response, error)
}

// History reads session records and reports store health
type History interface {
	FetchSessionHistory(ctx context.Context, sessionID string, limit int) ([]model.VerificationRecord, error)
	Stats(ctx context.Context) (*store.Stats, error)
	Ping(ctx context.Context) error
}

// Ingester adds reference content and reports index sizes
type Ingester interface {
	AddContent(ctx context.Context, name model.IndexName, text, source string) (*rag.AddResult, error)
	Stats() map[model.IndexName]int
}

// Server serves the verification API
type Server struct {
	verifier       Verifier
	history        History
	ingester       Ingester
	logger         *slog.Logger
	requestTimeout time.Duration
	maxHistory     int
}

// New creates a Server. A zero requestTimeout leaves requests unbounded.
func New(verifier Verifier, history History, ingester Ingester, logger *slog.Logger, requestTimeout time.Duration) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		verifier:       verifier,
		history:        history,
		ingester:       ingester,
		logger:         logger,
		requestTimeout: requestTimeout,
		maxHistory:     100,
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/verify", s.handleVerify)
	mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	mux.HandleFunc("GET /v1/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.logRequests(mux)
}

type verifyRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	SourceURL string `json:"source_url"`
}

type verifyResponse struct {
	AnswerText string           `json:"answer_text"`
	Verdict    model.Verdict    `json:"verdict"`
	Confidence int              `json:"confidence"`
	SourceType model.SourceType `json:"source_type"`
	Sources    []string         `json:"sources"`
	SessionID  string           `json:"session_id"`
	Degraded   bool             `json:"degraded,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

type errorResponse struct {
	ErrorKind verify.Kind `json:"error_kind"`
	Message   string      `json:"message"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, verify.KindInvalidInput, err.Error())
		return
	}

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	resp, err := s.verifier.Verify(ctx, model.ClaimQuery{
		Text:      req.Question,
		SessionID: req.SessionID,
		SourceURL: req.SourceURL,
	})
	if err != nil {
		s.writeVerifyError(w, err)
		return
	}

	rec := resp.Record
	sources := rec.Sources
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		AnswerText: rec.Answer,
		Verdict:    rec.Verdict,
		Confidence: rec.Confidence,
		SourceType: rec.SourceType,
		Sources:    sources,
		SessionID:  rec.SessionID,
		Degraded:   rec.Degraded,
		Timestamp:  rec.CreatedAt,
	})
}

// writeVerifyError maps error kinds to statuses. Storage and internal
// failures get a generic message; details stay in the log.
func (s *Server) writeVerifyError(w http.ResponseWriter, err error) {
	kind := verify.KindOf(err)
	switch kind {
	case verify.KindInvalidInput:
		writeError(w, http.StatusBadRequest, kind, invalidInputMessage(err))
	case verify.KindStageTimeout:
		writeError(w, http.StatusGatewayTimeout, kind, "verification timed out")
	case verify.KindCanceled:
		writeError(w, http.StatusServiceUnavailable, kind, "request canceled")
	case verify.KindStorageUnavailable, verify.KindIndexCorruption:
		writeError(w, http.StatusInternalServerError, verify.KindStorageUnavailable, "storage is unavailable, please retry later")
	default:
		s.logger.Error("verify failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, verify.KindInternal, "internal error")
	}
}

func invalidInputMessage(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "empty") {
		return "question is empty"
	}
	if strings.Contains(msg, "length") {
		return "question is too long"
	}
	return "invalid question"
}

type ingestRequest struct {
	Text   string          `json:"text"`
	Source string          `json:"source"`
	Index  model.IndexName `json:"index"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, verify.KindInvalidInput, err.Error())
		return
	}
	if req.Index == "" {
		req.Index = model.IndexDocument
	}
	if !req.Index.Valid() {
		writeError(w, http.StatusBadRequest, verify.KindInvalidInput, "unknown index: "+string(req.Index))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, verify.KindInvalidInput, "text is empty")
		return
	}

	res, err := s.ingester.AddContent(r.Context(), req.Index, req.Text, req.Source)
	if err != nil {
		s.logger.Error("ingest failed", slog.String("index", string(req.Index)), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, verify.KindStorageUnavailable, "storage is unavailable, please retry later")
		return
	}

	status := http.StatusCreated
	if res.Status != rag.StatusAdded {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, verify.KindInvalidInput, "limit must be a positive integer")
			return
		}
		limit = min(n, s.maxHistory)
	}

	records, err := s.history.FetchSessionHistory(r.Context(), sessionID, limit)
	if err != nil {
		s.logger.Error("history failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, verify.KindStorageUnavailable, "storage is unavailable, please retry later")
		return
	}
	if records == nil {
		records = []model.VerificationRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"history":    records,
	})
}

type healthResponse struct {
	Status  string                  `json:"status"`
	Store   *store.Stats            `json:"store,omitempty"`
	Indices map[model.IndexName]int `json:"indices"`
	Error   string                  `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Indices: s.ingester.Stats()}

	if err := s.history.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Error = "store unreachable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	stats, err := s.history.Stats(r.Context())
	if err != nil {
		s.logger.Warn("store stats failed", slog.String("error", err.Error()))
	} else {
		resp.Store = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return errors.New("malformed JSON body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind verify.Kind, msg string) {
	writeJSON(w, status, errorResponse{ErrorKind: kind, Message: msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
