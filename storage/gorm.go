// Package storage implements quest.Store over gorm and in memory.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/game/quest"
	"github.com/TheFokysnik/EcoTaleQuests/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists the quest catalog in SQL. Malformed rows are logged
// and skipped so one bad record cannot block startup.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewGormStore wraps an already migrated database.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{db: db, logger: logger, now: time.Now}
}

// SetClock replaces the clock that decides which day abandons count toward.
func (s *GormStore) SetClock(now func() time.Time) { s.now = now }

// ---- pools ----

func (s *GormStore) LoadQuestPool(ctx context.Context, period quest.Period) ([]quest.Quest, error) {
	var rows []model.PoolQuest
	if err := s.db.WithContext(ctx).Where("period = ?", string(period)).
		Order("position").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage: load pool %s: %w", period, err)
	}
	out := make([]quest.Quest, 0, len(rows))
	for i := range rows {
		q, err := questFromRow(&rows[i])
		if err != nil {
			s.logger.Warn("skipping malformed pool quest", zap.String("id", rows[i].ID), zap.Error(err))
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

// SaveQuestPool replaces the period's pool in one transaction.
func (s *GormStore) SaveQuestPool(ctx context.Context, period quest.Period, quests []quest.Quest) error {
	rows := make([]model.PoolQuest, len(quests))
	for i := range quests {
		rows[i] = questToRow(&quests[i], i)
		rows[i].Period = string(period)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("period = ?", string(period)).Delete(&model.PoolQuest{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("storage: save pool %s: %w", period, err)
	}
	return nil
}

func questToRow(q *quest.Quest, pos int) model.PoolQuest {
	return model.PoolQuest{
		ID:              q.ID.String(),
		Period:          string(q.Period),
		Position:        pos,
		Name:            q.Name,
		Description:     q.Description,
		ObjectiveType:   string(q.Objective.Type),
		Target:          q.Objective.Target,
		RequiredAmount:  q.Objective.RequiredAmount,
		BaseCoins:       q.Reward.BaseCoins,
		BonusXP:         q.Reward.BonusXP,
		MinLevel:        q.MinLevel,
		AccessType:      string(q.AccessType),
		MaxSlots:        q.MaxSlots,
		DurationMinutes: q.DurationMinutes,
		RequiredRank:    q.RequiredRank,
		RankPoints:      q.RankPoints,
		CreatedAt:       q.CreatedAt,
		ExpiresAt:       q.ExpiresAt,
	}
}

func questFromRow(r *model.PoolQuest) (quest.Quest, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return quest.Quest{}, err
	}
	period, ok := quest.ParsePeriod(r.Period)
	if !ok {
		return quest.Quest{}, fmt.Errorf("unknown period %q", r.Period)
	}
	typ, ok := quest.ParseType(r.ObjectiveType)
	if !ok {
		return quest.Quest{}, fmt.Errorf("unknown objective type %q", r.ObjectiveType)
	}
	access, ok := quest.ParseAccessType(r.AccessType)
	if !ok {
		return quest.Quest{}, fmt.Errorf("unknown access type %q", r.AccessType)
	}
	return quest.Quest{
		ID:              id,
		Name:            r.Name,
		Description:     r.Description,
		Period:          period,
		Objective:       quest.Objective{Type: typ, Target: r.Target, RequiredAmount: r.RequiredAmount},
		Reward:          quest.Reward{BaseCoins: r.BaseCoins, BonusXP: r.BonusXP},
		MinLevel:        r.MinLevel,
		AccessType:      access,
		MaxSlots:        r.MaxSlots,
		DurationMinutes: r.DurationMinutes,
		RequiredRank:    r.RequiredRank,
		RankPoints:      r.RankPoints,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}, nil
}

// ---- progress ----

func (s *GormStore) LoadUserProgress(ctx context.Context, user uuid.UUID) ([]*quest.UserQuestProgress, error) {
	var rows []model.QuestProgress
	if err := s.db.WithContext(ctx).Where("user_id = ?", user.String()).
		Order("accepted_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage: load progress %s: %w", user, err)
	}
	return s.progressFromRows(rows), nil
}

func (s *GormStore) LoadActiveProgress(ctx context.Context) ([]*quest.UserQuestProgress, error) {
	var rows []model.QuestProgress
	if err := s.db.WithContext(ctx).Where("status = ?", string(quest.StatusActive)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage: load active progress: %w", err)
	}
	return s.progressFromRows(rows), nil
}

func (s *GormStore) progressFromRows(rows []model.QuestProgress) []*quest.UserQuestProgress {
	out := make([]*quest.UserQuestProgress, 0, len(rows))
	for i := range rows {
		p, err := progressFromRow(&rows[i])
		if err != nil {
			s.logger.Warn("skipping malformed progress",
				zap.String("user", rows[i].UserID),
				zap.String("quest", rows[i].QuestID),
				zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out
}

func progressFromRow(r *model.QuestProgress) (*quest.UserQuestProgress, error) {
	user, err := uuid.Parse(r.UserID)
	if err != nil {
		return nil, err
	}
	questID, err := uuid.Parse(r.QuestID)
	if err != nil {
		return nil, err
	}
	status, ok := quest.ParseStatus(r.Status)
	if !ok {
		return nil, fmt.Errorf("unknown status %q", r.Status)
	}
	var snap quest.Quest
	if err := json.Unmarshal(r.Quest, &snap); err != nil {
		return nil, fmt.Errorf("quest snapshot: %w", err)
	}
	if snap.ID != questID {
		return nil, fmt.Errorf("snapshot id %s does not match %s", snap.ID, questID)
	}
	return &quest.UserQuestProgress{
		UserID:          user,
		QuestID:         questID,
		Status:          status,
		CurrentProgress: r.CurrentProgress,
		AcceptedAt:      r.AcceptedAt,
		CompletedAt:     r.CompletedAt,
		Quest:           snap,
	}, nil
}

// SaveUserProgress upserts by (user, quest).
func (s *GormStore) SaveUserProgress(ctx context.Context, p *quest.UserQuestProgress) error {
	snap, err := json.Marshal(p.Quest)
	if err != nil {
		return fmt.Errorf("storage: encode snapshot: %w", err)
	}
	row := model.QuestProgress{
		UserID:          p.UserID.String(),
		QuestID:         p.QuestID.String(),
		Status:          string(p.Status),
		CurrentProgress: p.CurrentProgress,
		AcceptedAt:      p.AcceptedAt,
		CompletedAt:     p.CompletedAt,
		Quest:           datatypes.JSON(snap),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("storage: save progress %s/%s: %w", row.UserID, row.QuestID, err)
	}
	return nil
}

func (s *GormStore) RemoveUserProgress(ctx context.Context, user, questID uuid.UUID) error {
	if err := s.db.WithContext(ctx).Where("user_id = ? AND quest_id = ?", user.String(), questID.String()).
		Delete(&model.QuestProgress{}).Error; err != nil {
		return fmt.Errorf("storage: remove progress %s/%s: %w", user, questID, err)
	}
	return nil
}

func (s *GormStore) GetCompletedCount(ctx context.Context, user uuid.UUID) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.QuestProgress{}).
		Where("user_id = ? AND status = ?", user.String(), string(quest.StatusCompleted)).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("storage: count completed %s: %w", user, err)
	}
	return int(n), nil
}

// ---- abandons ----

func (s *GormStore) GetAbandonCountToday(ctx context.Context, user uuid.UUID) (int, error) {
	var row model.AbandonCount
	err := s.db.WithContext(ctx).Where("user_id = ? AND day = ?", user.String(), dayKey(s.now())).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: abandon count %s: %w", user, err)
	}
	return row.Abandons, nil
}

func (s *GormStore) RecordAbandon(ctx context.Context, user uuid.UUID) error {
	row := model.AbandonCount{UserID: user.String(), Day: dayKey(s.now()), Abandons: 1}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"abandons": gorm.Expr("? + 1", clause.Column{Table: clause.CurrentTable, Name: "abandons"})}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storage: record abandon %s: %w", user, err)
	}
	return nil
}

// ---- rank ----

func (s *GormStore) LoadRankData(ctx context.Context, user uuid.UUID) (*quest.UserRankData, error) {
	var row model.RankData
	err := s.db.WithContext(ctx).Where("user_id = ?", user.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, quest.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load rank %s: %w", user, err)
	}
	return &quest.UserRankData{
		UserID:         user,
		RankPoints:     row.RankPoints,
		TotalCompleted: row.TotalCompleted,
		TotalFailed:    row.TotalFailed,
	}, nil
}

func (s *GormStore) SaveRankData(ctx context.Context, data quest.UserRankData) error {
	row := model.RankData{
		UserID:         data.UserID.String(),
		RankPoints:     data.RankPoints,
		TotalCompleted: data.TotalCompleted,
		TotalFailed:    data.TotalFailed,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("storage: save rank %s: %w", row.UserID, err)
	}
	return nil
}

// ---- assignments ----

func (s *GormStore) LoadActiveAssignments(ctx context.Context) ([]*quest.Assignment, error) {
	var rows []model.Assignment
	if err := s.db.WithContext(ctx).Where("released = ?", false).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("storage: load assignments: %w", err)
	}
	out := make([]*quest.Assignment, 0, len(rows))
	for _, r := range rows {
		questID, err1 := uuid.Parse(r.QuestID)
		user, err2 := uuid.Parse(r.UserID)
		if err := errors.Join(err1, err2); err != nil {
			s.logger.Warn("skipping malformed assignment",
				zap.String("quest", r.QuestID), zap.String("user", r.UserID), zap.Error(err))
			continue
		}
		var expires time.Time
		if r.ExpiresAt != nil {
			expires = *r.ExpiresAt
		}
		out = append(out, quest.RestoreAssignment(questID, user, r.AssignedAt, expires, r.Shared, r.Released))
	}
	return out, nil
}

// SaveAssignment upserts by (quest, user), so a release overwrites the
// held row and a later reassignment overwrites the released one.
func (s *GormStore) SaveAssignment(ctx context.Context, a *quest.Assignment) error {
	row := model.Assignment{
		QuestID:    a.QuestID.String(),
		UserID:     a.UserID.String(),
		AssignedAt: a.AssignedAt,
		Shared:     a.Shared,
		Released:   a.Released(),
	}
	if a.Timed() {
		t := a.ExpiresAt
		row.ExpiresAt = &t
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("storage: save assignment %s/%s: %w", row.QuestID, row.UserID, err)
	}
	return nil
}
