package quest

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// RankTier is one rung of the progression ladder.
type RankTier struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Threshold int    `json:"threshold"`
	Color     string `json:"color,omitempty"`
}

// Ladder is the ordered tier list, lowest first. Ordinals are indexes.
type Ladder struct {
	tiers []RankTier
}

// NewLadder sorts tiers by threshold. The lowest tier always applies at
// zero points, so its threshold is forced to 0.
func NewLadder(tiers []RankTier) *Ladder {
	sorted := make([]RankTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Threshold < sorted[j].Threshold })
	if len(sorted) == 0 {
		sorted = append(sorted, RankTier{ID: "E", Label: "Novice"})
	}
	sorted[0].Threshold = 0
	return &Ladder{tiers: sorted}
}

// Tiers returns a copy of the ladder.
func (l *Ladder) Tiers() []RankTier {
	out := make([]RankTier, len(l.tiers))
	copy(out, l.tiers)
	return out
}

// ForPoints returns the highest tier whose threshold is <= points, and its ordinal.
func (l *Ladder) ForPoints(points int) (RankTier, int) {
	idx := 0
	for i, t := range l.tiers {
		if points >= t.Threshold {
			idx = i
		} else {
			break
		}
	}
	return l.tiers[idx], idx
}

// Ordinal returns the position of the tier with the given id (case-insensitive).
func (l *Ladder) Ordinal(id string) (int, bool) {
	for i, t := range l.tiers {
		if strings.EqualFold(t.ID, id) {
			return i, true
		}
	}
	return 0, false
}

// Next returns the tier above ordinal, if any.
func (l *Ladder) Next(ordinal int) (RankTier, bool) {
	if ordinal+1 < len(l.tiers) {
		return l.tiers[ordinal+1], true
	}
	return RankTier{}, false
}

// UserRankData is per-user progression. Rank itself is derived from points.
type UserRankData struct {
	UserID         uuid.UUID `json:"user_id"`
	RankPoints     int       `json:"rank_points"`
	TotalCompleted int       `json:"total_completed"`
	TotalFailed    int       `json:"total_failed"`
}
