package quest

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Store lookups with no matching record.
var ErrNotFound = errors.New("quest: record not found")

// Store is the durable catalog of pools, per-user progress, rank data and
// shared-slot assignments. Implementations must make each Save atomic per key.
type Store interface {
	LoadQuestPool(ctx context.Context, period Period) ([]Quest, error)
	SaveQuestPool(ctx context.Context, period Period, quests []Quest) error

	LoadUserProgress(ctx context.Context, user uuid.UUID) ([]*UserQuestProgress, error)
	// LoadActiveProgress returns every active record across all users.
	LoadActiveProgress(ctx context.Context) ([]*UserQuestProgress, error)
	SaveUserProgress(ctx context.Context, p *UserQuestProgress) error
	RemoveUserProgress(ctx context.Context, user, questID uuid.UUID) error

	GetCompletedCount(ctx context.Context, user uuid.UUID) (int, error)
	GetAbandonCountToday(ctx context.Context, user uuid.UUID) (int, error)
	RecordAbandon(ctx context.Context, user uuid.UUID) error

	// LoadRankData returns ErrNotFound for users without rank data.
	LoadRankData(ctx context.Context, user uuid.UUID) (*UserRankData, error)
	SaveRankData(ctx context.Context, data UserRankData) error

	// LoadActiveAssignments returns assignments not yet released.
	LoadActiveAssignments(ctx context.Context) ([]*Assignment, error)
	SaveAssignment(ctx context.Context, a *Assignment) error
}
