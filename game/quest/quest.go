// Package quest holds the canonical quest domain types shared by the
// generator, rank, availability, timer and tracker services.
package quest

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Period groups quests by refresh cadence.
type Period string

const (
	PeriodDaily  Period = "daily"
	PeriodWeekly Period = "weekly"
)

// Periods lists every period in refresh order.
var Periods = []Period{PeriodDaily, PeriodWeekly}

// ParsePeriod accepts "daily"/"weekly" case-insensitively.
func ParsePeriod(s string) (Period, bool) {
	switch Period(strings.ToLower(s)) {
	case PeriodDaily:
		return PeriodDaily, true
	case PeriodWeekly:
		return PeriodWeekly, true
	}
	return "", false
}

// Type is the action category an objective counts.
type Type string

const (
	TypeKillMob     Type = "kill_mob"
	TypeMineOre     Type = "mine_ore"
	TypeChopWood    Type = "chop_wood"
	TypeHarvestCrop Type = "harvest_crop"
	TypeEarnCoins   Type = "earn_coins"
	TypeGainXP      Type = "gain_xp"
)

// Types lists the built-in action types.
var Types = []Type{TypeKillMob, TypeMineOre, TypeChopWood, TypeHarvestCrop, TypeEarnCoins, TypeGainXP}

// Category is the generic noun used when a quest has no target.
func (t Type) Category() string {
	switch t {
	case TypeKillMob:
		return "mob"
	case TypeMineOre:
		return "ore"
	case TypeChopWood:
		return "wood"
	case TypeHarvestCrop:
		return "crop"
	case TypeEarnCoins:
		return "coins"
	case TypeGainXP:
		return "xp"
	}
	return string(t)
}

// ParseType accepts the id form ("kill_mob") or the upper-case form ("KILL_MOB").
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToLower(s))
	for _, known := range Types {
		if t == known {
			return known, true
		}
	}
	return "", false
}

// AccessType decides whether acceptance consumes shared capacity.
type AccessType string

const (
	AccessIndividual   AccessType = "individual"
	AccessGlobalUnique AccessType = "global_unique"
	AccessLimitedSlots AccessType = "limited_slots"
)

// ParseAccessType defaults to individual for empty input.
func ParseAccessType(s string) (AccessType, bool) {
	switch AccessType(strings.ToLower(s)) {
	case "", AccessIndividual:
		return AccessIndividual, true
	case AccessGlobalUnique:
		return AccessGlobalUnique, true
	case AccessLimitedSlots:
		return AccessLimitedSlots, true
	}
	return "", false
}

// Shared reports whether the access type is brokered by the availability manager.
func (a AccessType) Shared() bool {
	return a == AccessGlobalUnique || a == AccessLimitedSlots
}

// Objective is the rule deciding which action signals count toward a quest.
type Objective struct {
	Type           Type    `json:"type"`
	Target         string  `json:"target,omitempty"`
	RequiredAmount float64 `json:"required_amount"`
}

// Matches reports whether a signal counts toward this objective. An empty or
// "*" target matches anything; otherwise targets match case-insensitively
// when either contains the other.
func (o Objective) Matches(actionType Type, actionTarget string) bool {
	if o.Type != actionType {
		return false
	}
	if o.Target == "" || o.Target == "*" {
		return true
	}
	if actionTarget == "" {
		return false
	}
	want := strings.ToLower(o.Target)
	got := strings.ToLower(actionTarget)
	return strings.Contains(got, want) || strings.Contains(want, got)
}

// SameGoal reports whether two objectives count the same thing.
func (o Objective) SameGoal(other Objective) bool {
	return o.Type == other.Type && o.Target == other.Target
}

// Reward is the base payout before level and VIP scaling.
type Reward struct {
	BaseCoins float64 `json:"base_coins"`
	BonusXP   int     `json:"bonus_xp"`
}

// Quest is immutable once generated.
type Quest struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Period          Period     `json:"period"`
	Objective       Objective  `json:"objective"`
	Reward          Reward     `json:"reward"`
	MinLevel        int        `json:"min_level"`
	AccessType      AccessType `json:"access_type"`
	MaxSlots        int        `json:"max_slots"`
	DurationMinutes int        `json:"duration_minutes"`
	RequiredRank    string     `json:"required_rank,omitempty"`
	RankPoints      int        `json:"rank_points"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
}

// Expired reports whether now is past the quest's pool expiry.
func (q *Quest) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Timed reports whether accepting the quest starts a countdown.
func (q *Quest) Timed() bool {
	return q.DurationMinutes > 0
}

// ShortID is the first eight characters of the id, for logs and chat.
func (q *Quest) ShortID() string {
	return q.ID.String()[:8]
}
