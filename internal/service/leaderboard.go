package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"score-ledger/internal/client"
	"score-ledger/internal/constants"
	"score-ledger/internal/domain"

	"github.com/rs/zerolog"
)

type LeaderboardEntry struct {
	Owner            domain.Address `json:"owner"`
	GamesPlayed      uint64         `json:"games_played"`
	TotalPublicScore uint64         `json:"total_public_score"`
	BestPublicScore  uint32         `json:"best_public_score"`
	Badges           int            `json:"badges"`
	LastPlayedAt     time.Time      `json:"last_played_at"`
}

// Board is the leaderboard state rebuilt from the ledger event log.
type Board struct {
	entries map[domain.Address]*LeaderboardEntry
	history map[domain.Address][]domain.Event
	lastSeq uint64
}

func NewBoard() *Board {
	return &Board{
		entries: make(map[domain.Address]*LeaderboardEntry),
		history: make(map[domain.Address][]domain.Event),
	}
}

// Apply folds events into the board. Events at or below the last applied
// sequence number are ignored.
func (b *Board) Apply(events []domain.Event) {
	for _, e := range events {
		if e.Seq <= b.lastSeq {
			continue
		}
		b.lastSeq = e.Seq

		entry, ok := b.entries[e.Owner]
		if !ok {
			entry = &LeaderboardEntry{Owner: e.Owner}
			b.entries[e.Owner] = entry
		}
		switch e.Kind {
		case domain.EventSubmission:
			entry.GamesPlayed++
			entry.TotalPublicScore += uint64(e.PublicScore)
			entry.BestPublicScore = max(entry.BestPublicScore, e.PublicScore)
			entry.LastPlayedAt = e.Timestamp
			b.history[e.Owner] = append(b.history[e.Owner], e)
		case domain.EventBadgeClaimed:
			entry.Badges++
		}
	}
}

func (b *Board) LastSeq() uint64 {
	return b.lastSeq
}

// Top returns up to limit entries ordered by total public score, then games
// played, then address.
func (b *Board) Top(limit int) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.GamesPlayed > 0 {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(x, y LeaderboardEntry) int {
		if c := cmp.Compare(y.TotalPublicScore, x.TotalPublicScore); c != 0 {
			return c
		}
		if c := cmp.Compare(y.GamesPlayed, x.GamesPlayed); c != 0 {
			return c
		}
		return cmp.Compare(x.Owner, y.Owner)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// History returns the owner's submission events, newest first.
func (b *Board) History(owner domain.Address) []domain.Event {
	out := slices.Clone(b.history[owner])
	slices.Reverse(out)
	return out
}

type LeaderboardService struct {
	ledger *client.LedgerClient
	logger zerolog.Logger
}

func NewLeaderboardService(ledger *client.LedgerClient, logger zerolog.Logger) *LeaderboardService {
	return &LeaderboardService{ledger: ledger, logger: logger}
}

// Load replays the full event log into a new board.
func (s *LeaderboardService) Load(ctx context.Context) (*Board, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	board := NewBoard()
	for {
		events, err := s.ledger.Events(ctx, board.LastSeq(), constants.EventPageLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to page events after %d: %w", board.LastSeq(), err)
		}
		board.Apply(events)
		if len(events) < constants.EventPageLimit {
			break
		}
	}
	s.logger.Debug().Uint64("last_seq", board.LastSeq()).Int("owners", len(board.entries)).Msg("leaderboard replayed")
	return board, nil
}
