package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/embedding"
	"github.com/hyperjump/embedserver/internal/pipeline"
	"github.com/hyperjump/embedserver/internal/registry"
)

// TruncatedHeader reports how many texts in the request were cut to the model's max tokens.
const TruncatedHeader = "X-Embed-Truncated"

// StatusClientClosedRequest is logged when the caller goes away before the batch finishes.
const StatusClientClosedRequest = 499

// EmbedRequest is the /embed request body. Texts are pointers so null elements
// can be told apart from empty strings.
type EmbedRequest struct {
	Texts []*string `json:"texts"`
	Model *string   `json:"model"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}
	var req EmbedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Texts == nil {
		s.respondError(w, http.StatusBadRequest, "texts is required")
		return
	}
	if len(req.Texts) == 0 {
		s.respondError(w, http.StatusBadRequest, pipeline.ErrEmptyBatch.Error())
		return
	}
	if req.Model == nil || *req.Model == "" {
		s.respondError(w, http.StatusBadRequest, "model is required")
		return
	}
	texts := make([]string, len(req.Texts))
	for i, t := range req.Texts {
		if t == nil {
			s.respondError(w, http.StatusBadRequest, "texts["+strconv.Itoa(i)+"] must be a string")
			return
		}
		texts[i] = *t
	}

	s.logger.Debug("embed request",
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.String("model", *req.Model),
		zap.Int("texts", len(texts)))
	res, err := s.embedder.EmbedBatch(r.Context(), texts, *req.Model)
	if err != nil {
		status, message := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("embedding failed",
				zap.String("request_id", RequestIDFrom(r.Context())),
				zap.String("model", *req.Model),
				zap.Error(err))
		}
		s.respondError(w, status, message)
		return
	}
	if res.Truncated > 0 {
		w.Header().Set(TruncatedHeader, strconv.Itoa(res.Truncated))
	}
	s.respondJSON(w, http.StatusOK, res.Embeddings)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"models": s.embedder.Models()})
}

// statusFor maps pipeline errors to an HTTP status and a client-safe message.
// Client errors carry their cause; everything else is an opaque internal error.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "request canceled"
	case errors.Is(err, registry.ErrUnknownModel),
		errors.Is(err, embedding.ErrTokenization),
		errors.Is(err, pipeline.ErrEmptyBatch):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
