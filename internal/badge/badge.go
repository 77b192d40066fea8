// Package badge evaluates achievement predicates over public statistics.
// It holds no state and is shared by the ledger, which gates claims on it,
// and by clients previewing progress.
package badge

import (
	"fmt"
	"time"

	"score-ledger/internal/constants"
	"score-ledger/internal/domain"
)

const (
	FirstGame uint64 = iota + 1
	ScoreTen
	HighScore
	Regular
	DailyPlayer
	Veteran
)

type Badge struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	check       func(s domain.PublicStats, now time.Time) bool
}

var catalog = []Badge{
	{
		ID:          FirstGame,
		Name:        "First Steps",
		Description: "play at least one game",
		check:       func(s domain.PublicStats, _ time.Time) bool { return s.GamesPlayed >= 1 },
	},
	{
		ID:          ScoreTen,
		Name:        "Double Digits",
		Description: "reach a total public score of 10",
		check:       func(s domain.PublicStats, _ time.Time) bool { return s.TotalPublicScore >= 10 },
	},
	{
		ID:          HighScore,
		Name:        "High Scorer",
		Description: "score at least 20 in a single game",
		check:       func(s domain.PublicStats, _ time.Time) bool { return s.MaxSinglePublicScore >= 20 },
	},
	{
		ID:          Regular,
		Name:        "Regular",
		Description: "play 3 games and stay active within the last 7 days",
		check: func(s domain.PublicStats, now time.Time) bool {
			return s.GamesPlayed >= 3 && playedWithin(s, now, constants.BadgeActiveWindow)
		},
	},
	{
		ID:          DailyPlayer,
		Name:        "Daily Player",
		Description: "play within the last day",
		check: func(s domain.PublicStats, now time.Time) bool {
			return playedWithin(s, now, constants.BadgeDailyWindow)
		},
	},
	{
		ID:          Veteran,
		Name:        "Veteran",
		Description: "play 10 games",
		check:       func(s domain.PublicStats, _ time.Time) bool { return s.GamesPlayed >= 10 },
	},
}

// lastPlayedAt + window >= now, compared at second resolution like the ledger stores it
func playedWithin(s domain.PublicStats, now time.Time, window time.Duration) bool {
	if s.LastPlayedAt.IsZero() {
		return false
	}
	return s.LastPlayedAt.Unix()+int64(window/time.Second) >= now.Unix()
}

type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

func (e *Evaluator) Catalog() []Badge {
	out := make([]Badge, len(catalog))
	copy(out, catalog)
	return out
}

func (e *Evaluator) Lookup(id uint64) (Badge, error) {
	for _, b := range catalog {
		if b.ID == id {
			return b, nil
		}
	}
	return Badge{}, fmt.Errorf("badge %d: %w", id, domain.ErrUnknownBadge)
}

// Eligible evaluates the predicate of badge id against s at time now.
func (e *Evaluator) Eligible(id uint64, s domain.PublicStats, now time.Time) (bool, error) {
	b, err := e.Lookup(id)
	if err != nil {
		return false, err
	}
	return b.check(s, now), nil
}

type Progress struct {
	Badge    Badge `json:"badge"`
	Eligible bool  `json:"eligible"`
	Claimed  bool  `json:"claimed"`
}

// Preview reports eligibility for every badge. claimed may be nil.
func (e *Evaluator) Preview(s domain.PublicStats, now time.Time, claimed map[uint64]bool) []Progress {
	out := make([]Progress, 0, len(catalog))
	for _, b := range catalog {
		out = append(out, Progress{
			Badge:    b,
			Eligible: b.check(s, now),
			Claimed:  claimed[b.ID],
		})
	}
	return out
}
