package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/umekomi/internal/dispatch"
	"github.com/hyperjump/umekomi/internal/metrics"
	"github.com/hyperjump/umekomi/pkg/utils"
)

type embedRequest struct {
	Tokens     []int64 `json:"tokens"`
	ModelPath  string  `json:"model_path,omitempty"`
	OutputName string  `json:"output_name,omitempty"`
	Normalize  bool    `json:"normalize,omitempty"`
}

type embedResponse struct {
	Embedding  []float32 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
	Cached     bool      `json:"cached"`
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Tokens) == 0 {
		s.respondError(w, http.StatusBadRequest, "tokens must be a non-empty array of integers")
		return
	}
	modelPath := req.ModelPath
	if modelPath == "" {
		modelPath = s.modelPath
	}
	outputName := req.OutputName
	if outputName == "" {
		outputName = s.outputName
	}
	s.logger.Debug("embed request",
		zap.String("model", modelPath),
		zap.Int("tokens", len(req.Tokens)),
	)

	key := cacheKey(modelPath, outputName, req.Tokens)
	if emb, ok := s.cache.Get(key); ok {
		metrics.CacheHits.Inc()
		s.respondEmbedding(w, emb, req.Normalize, true)
		return
	}
	metrics.CacheMisses.Inc()

	var opts []dispatch.InferOption
	if outputName != "" {
		opts = append(opts, dispatch.WithOutputName(outputName))
	}
	if s.libraryPath != "" {
		opts = append(opts, dispatch.WithLibraryPath(s.libraryPath))
	}
	emb, err := s.dispatcher.SendInference(r.Context(), modelPath, req.Tokens, opts...)
	if err != nil {
		s.logger.Error("embed failed", zap.String("model", modelPath), zap.Error(err))
		if errors.Is(err, dispatch.ErrNotStarted) {
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.cache.Add(key, emb)
	s.respondEmbedding(w, emb, req.Normalize, false)
}

func (s *Server) respondEmbedding(w http.ResponseWriter, emb []float32, normalize, cached bool) {
	if normalize {
		// The cache keeps raw embeddings; normalize a copy.
		norm := make([]float32, len(emb))
		copy(norm, emb)
		utils.NormalizeL2(norm)
		emb = norm
	}
	s.respondJSON(w, http.StatusOK, embedResponse{
		Embedding:  emb,
		Dimensions: len(emb),
		Cached:     cached,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func cacheKey(modelPath, outputName string, tokens []int64) string {
	var b strings.Builder
	b.WriteString(modelPath)
	b.WriteByte('|')
	b.WriteString(outputName)
	for _, tok := range tokens {
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(tok, 10))
	}
	return b.String()
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
