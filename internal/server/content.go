package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"score-ledger/internal/constants"
	"score-ledger/internal/domain"
	"score-ledger/internal/repository"

	"github.com/rs/zerolog"
)

const contentRefPrefix = "sha256:"

type ContentResponse struct {
	Ref  string      `json:"ref"`
	Hash domain.Hash `json:"hash"`
}

// ContentServer stores result documents addressed by their sha-256 hash.
type ContentServer struct {
	repo   *repository.ContentRepository
	logger zerolog.Logger
}

func NewContentServer(repo *repository.ContentRepository, logger zerolog.Logger) *ContentServer {
	return &ContentServer{repo: repo, logger: logger}
}

func (s *ContentServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /content", s.put)
	mux.HandleFunc("GET /content/{ref}", s.get)
}

func (s *ContentServer) put(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxContentSize))
	if err != nil {
		http.Error(w, "content too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty content", http.StatusBadRequest)
		return
	}

	hash := domain.Hash(sha256.Sum256(body))
	ref := contentRefPrefix + hex.EncodeToString(hash[:])
	if err := s.repo.Put(r.Context(), ref, hash, body); err != nil {
		log.Error().Err(err).Msg("failed to store content")
		http.Error(w, "failed to store content", http.StatusInternalServerError)
		return
	}
	log.Info().Str("ref", ref).Int("size", len(body)).Msg("content stored")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ContentResponse{Ref: ref, Hash: hash})
}

func (s *ContentServer) get(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	if !strings.HasPrefix(ref, contentRefPrefix) {
		http.Error(w, "unsupported content ref", http.StatusBadRequest)
		return
	}
	body, hash, err := s.repo.Get(r.Context(), ref)
	if errors.Is(err, domain.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("ref", ref).Msg("failed to load content")
		http.Error(w, "failed to load content", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("X-Content-Hash", hash.String())
	w.Write(body)
}
