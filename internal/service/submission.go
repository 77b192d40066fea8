package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"score-ledger/internal/client"
	"score-ledger/internal/constants"
	"score-ledger/internal/coordinator"
	"score-ledger/internal/domain"

	"github.com/rs/zerolog"
)

// ResultDocument is the public record of a finished game stored in the
// content store. The private score is never part of it.
type ResultDocument struct {
	Player      domain.Address `json:"player"`
	PublicScore uint32         `json:"public_score"`
	Correct     int            `json:"correct"`
	Questions   int            `json:"questions"`
	PlayedAt    time.Time      `json:"played_at"`
}

type SubmissionService struct {
	content *client.ContentClient
	coord   *coordinator.Coordinator
	logger  zerolog.Logger
}

func NewSubmissionService(content *client.ContentClient, coord *coordinator.Coordinator, logger zerolog.Logger) *SubmissionService {
	return &SubmissionService{content: content, coord: coord, logger: logger}
}

// Submit stores the result document and submits score with the document
// hash and ref through the coordinator.
func (s *SubmissionService) Submit(ctx context.Context, score uint32, doc ResultDocument) (coordinator.SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	doc.Player = s.coord.Snapshot().Context.SignerAddress
	if doc.PlayedAt.IsZero() {
		doc.PlayedAt = time.Now().UTC()
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return coordinator.SubmitResult{}, fmt.Errorf("failed to encode result document: %w", err)
	}

	ref, err := s.content.Put(ctx, body)
	if err != nil {
		return coordinator.SubmitResult{}, fmt.Errorf("failed to upload result document: %w", err)
	}
	s.logger.Debug().Str("ref", ref.Ref).Msg("result document uploaded")

	return s.coord.Submit(ctx, coordinator.SubmitRequest{
		Score:       score,
		PublicScore: doc.PublicScore,
		ResultHash:  ref.Hash,
		ResultRef:   ref.Ref,
	})
}

// Document loads the result document behind a submission event.
func (s *SubmissionService) Document(ctx context.Context, ref string) (*ResultDocument, error) {
	body, err := s.content.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	var doc ResultDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode result document %s: %w", ref, err)
	}
	return &doc, nil
}
