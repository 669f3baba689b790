// Package audit keeps the quest journal: one row per lifecycle event,
// written asynchronously in batches.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/TheFokysnik/EcoTaleQuests/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Journal event names.
const (
	EventAccept   = "accept"
	EventAbandon  = "abandon"
	EventComplete = "complete"
	EventFail     = "fail"
	EventExpire   = "expire"
	EventRemove   = "remove"
	EventRefresh  = "refresh"
)

type traceKey struct{}

// WithTrace attaches a trace id to ctx so journal entries can be correlated
// with the request that caused them.
func WithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceFrom returns the trace id stored by WithTrace, or "".
func TraceFrom(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Entry is one journal event.
type Entry struct {
	TraceID string
	UserID  uuid.UUID
	QuestID uuid.UUID
	Event   string
	Result  string
	Detail  interface{}
}

// Service logs journal entries asynchronously in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.QuestJournal
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a journal Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.QuestJournal, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Record enqueues an entry, taking the trace id from ctx when the entry has
// none. A full queue drops the entry with a warning.
func (svc *Service) Record(ctx context.Context, entry Entry) {
	if entry.TraceID == "" {
		entry.TraceID = TraceFrom(ctx)
	}
	row := &model.QuestJournal{
		TraceID: entry.TraceID,
		UserID:  entry.UserID.String(),
		Event:   entry.Event,
		Result:  entry.Result,
	}
	if entry.QuestID != uuid.Nil {
		row.QuestID = entry.QuestID.String()
	}
	if entry.Detail != nil {
		detail, _ := json.Marshal(entry.Detail)
		row.Detail = datatypes.JSON(detail)
	}
	select {
	case svc.ch <- row:
	default:
		svc.logger.Warn("journal channel full, dropping entry",
			zap.String("event", entry.Event), zap.String("user", row.UserID))
	}
}

// History returns the user's most recent entries, newest first.
func (svc *Service) History(ctx context.Context, user uuid.UUID, limit int) ([]model.QuestJournal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []model.QuestJournal
	err := svc.db.WithContext(ctx).
		Where("user_id = ?", user.String()).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := make([]*model.QuestJournal, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("journal batch write failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			// Drain remaining entries.
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
