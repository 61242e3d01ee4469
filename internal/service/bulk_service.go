package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/internal/apperr"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"github.com/tradepost/tradepost-messaging/internal/qcache"
	"github.com/tradepost/tradepost-messaging/internal/realtime"
	"github.com/tradepost/tradepost-messaging/internal/repository"
	"github.com/tradepost/tradepost-messaging/internal/utils"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaxBulkSize caps messageIds per bulk request. Bounds transaction size and
// blunts abuse.
const MaxBulkSize = 100

// CacheNamespace is the query-cache namespace for message listings. Every
// mutation invalidates the whole namespace.
const CacheNamespace = "messages"

// EventPublisher decouples services from the hub for tests.
type EventPublisher interface {
	Publish(event realtime.Event)
}

// BulkResult is returned from a committed bulk mutation. UndoToken is the
// plaintext secret, surfaced exactly once.
type BulkResult struct {
	OperationID   uuid.UUID `json:"operation_id"`
	UndoToken     string    `json:"undo_token"`
	AffectedCount int       `json:"affected_count"`
}

// operationEvent is the payload of realtime "operation" pushes.
type operationEvent struct {
	Operation   string      `json:"operation"`
	OperationID uuid.UUID   `json:"operation_id"`
	ActorID     uuid.UUID   `json:"actor_id"`
	MessageIDs  []uuid.UUID `json:"message_ids"`
}

// BulkService mutates batches of messages atomically and journals each
// mutation with enough prior state to reverse it within the undo window.
type BulkService struct {
	db          *gorm.DB
	threadRepo  *repository.ThreadRepository
	messageRepo *repository.MessageRepository
	opRepo      *repository.OperationRepository
	publisher   EventPublisher
	cache       *qcache.Cache
	undoWindow  time.Duration
	now         func() time.Time
}

func NewBulkService(
	db *gorm.DB,
	threadRepo *repository.ThreadRepository,
	messageRepo *repository.MessageRepository,
	opRepo *repository.OperationRepository,
	publisher EventPublisher,
	cache *qcache.Cache,
	undoWindow time.Duration,
) *BulkService {
	return &BulkService{
		db:          db,
		threadRepo:  threadRepo,
		messageRepo: messageRepo,
		opRepo:      opRepo,
		publisher:   publisher,
		cache:       cache,
		undoWindow:  undoWindow,
		now:         time.Now,
	}
}

// BulkDelete soft-deletes messageIDs within threadID in one transaction.
func (s *BulkService) BulkDelete(ctx context.Context, threadID uuid.UUID, messageIDs []uuid.UUID, actorID uuid.UUID) (*BulkResult, error) {
	return s.run(ctx, models.OperationDelete, threadID, messageIDs, actorID, func(tx *gorm.DB, matched []models.Message) error {
		for _, msg := range matched {
			if msg.IsDeleted() {
				return apperr.Validation("message %s is already deleted", msg.ID)
			}
		}
		ids := messageIDList(matched)
		return s.messageRepo.WithTx(tx).SoftDeleteAll(ids, actorID, s.now())
	})
}

// BulkMarkRead sets or clears the acting user's read receipt on messageIDs in
// one transaction.
func (s *BulkService) BulkMarkRead(ctx context.Context, threadID uuid.UUID, messageIDs []uuid.UUID, actorID uuid.UUID, read bool) (*BulkResult, error) {
	return s.run(ctx, models.OperationMarkRead, threadID, messageIDs, actorID, func(tx *gorm.DB, matched []models.Message) error {
		repo := s.messageRepo.WithTx(tx)
		now := s.now()

		for _, msg := range matched {
			readBy := msg.ReadBy
			if read {
				if readBy.HasReader(actorID) {
					continue
				}
				readBy = append(readBy, models.ReadReceipt{UserID: actorID, ReadAt: now})
			} else {
				next := make(models.ReadReceipts, 0, len(readBy))
				for _, receipt := range readBy {
					if receipt.UserID != actorID {
						next = append(next, receipt)
					}
				}
				if len(next) == len(readBy) {
					continue
				}
				readBy = next
			}
			if err := repo.SetReadBy(msg.ID, readBy); err != nil {
				return err
			}
		}
		return nil
	})
}

// run is the shared bulk algorithm: validate → snapshot → mutate → journal,
// all inside one transaction. Any failure aborts the whole thing; callers see
// fully applied or fully unapplied, never partial state.
func (s *BulkService) run(
	ctx context.Context,
	opType models.OperationType,
	threadID uuid.UUID,
	messageIDs []uuid.UUID,
	actorID uuid.UUID,
	mutate func(tx *gorm.DB, matched []models.Message) error,
) (*BulkResult, error) {
	// Everything before the transaction has no side effects
	messageIDs = dedupe(messageIDs)
	if len(messageIDs) == 0 {
		return nil, apperr.Validation("messageIds must not be empty")
	}
	if len(messageIDs) > MaxBulkSize {
		return nil, apperr.Validation("messageIds exceeds the maximum of %d entries", MaxBulkSize)
	}

	thread, err := s.threadRepo.GetByID(threadID)
	if err != nil {
		return nil, s.storage(err)
	}
	if thread == nil {
		return nil, apperr.NotFound("thread %s not found", threadID)
	}
	if !thread.HasParticipant(actorID) {
		return nil, apperr.Authorization("user is not a participant of this thread")
	}

	token, tokenHash, err := utils.NewUndoToken()
	if err != nil {
		return nil, err
	}

	op := &models.BulkOperation{
		ID:            uuid.New(),
		Type:          opType,
		ThreadID:      threadID,
		ActorID:       actorID,
		MessageIDs:    messageIDs,
		UndoTokenHash: tokenHash,
		CreatedAt:     s.now(),
	}

	txn := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			matched, err := s.messageRepo.WithTx(tx).FindInThread(threadID, messageIDs)
			if err != nil {
				return err
			}
			// Requested vs matched mismatch means a foreign or nonexistent
			// id slipped in — reject everything, never partial success
			if len(matched) != len(messageIDs) {
				return apperr.Authorization("%d of %d messages do not belong to this thread", len(messageIDs)-len(matched), len(messageIDs))
			}

			snapshots := make(models.Snapshots, len(matched))
			for i, msg := range matched {
				snapshots[i] = msg.Snapshot()
			}
			op.Snapshot = snapshots

			if err := mutate(tx, matched); err != nil {
				return err
			}

			return s.opRepo.WithTx(tx).Create(op)
		})
	}

	if err := s.withRetry(txn); err != nil {
		return nil, err
	}

	s.afterCommit(ctx, opType, op)

	return &BulkResult{
		OperationID:   op.ID,
		UndoToken:     token,
		AffectedCount: len(op.MessageIDs),
	}, nil
}

// Undo reverses a bulk operation. The presented token is hashed and compared
// against the journal; rejection distinguishes wrong token, expired window and
// already-consumed.
func (s *BulkService) Undo(ctx context.Context, operationID uuid.UUID, token string) (restored int, err error) {
	op, err := s.opRepo.GetByID(operationID)
	if err != nil {
		return 0, s.storage(err)
	}
	if op == nil {
		return 0, apperr.NotFound("operation %s not found", operationID)
	}

	if !utils.VerifyUndoToken(token, op.UndoTokenHash) {
		return 0, apperr.UndoRejected("undo token does not match")
	}
	if op.Consumed {
		return 0, apperr.UndoRejected("operation was already undone")
	}
	if !op.Undoable(s.now(), s.undoWindow) {
		return 0, apperr.UndoRejected("undo window has expired")
	}

	txn := func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// The consumed guard is re-checked under the transaction, so a
			// concurrent double-undo loses here
			ok, err := s.opRepo.WithTx(tx).Consume(op.ID, s.now())
			if err != nil {
				return err
			}
			if !ok {
				return apperr.UndoRejected("operation was already undone")
			}

			repo := s.messageRepo.WithTx(tx)
			for _, snapshot := range op.Snapshot {
				if err := repo.Restore(snapshot); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := s.withRetry(txn); err != nil {
		return 0, err
	}

	s.afterCommit(ctx, "undo", op)

	// Restored count comes from the snapshot actually re-applied
	return len(op.Snapshot), nil
}

// afterCommit publishes the realtime event and invalidates the listing cache.
// Both are decoupled from durability: failures are logged, the committed
// mutation stands.
func (s *BulkService) afterCommit(ctx context.Context, opType models.OperationType, op *models.BulkOperation) {
	s.publisher.Publish(realtime.NewEvent(realtime.EventOperation, op.ThreadID, operationEvent{
		Operation:   string(opType),
		OperationID: op.ID,
		ActorID:     op.ActorID,
		MessageIDs:  op.MessageIDs,
	}))

	if err := s.cache.Invalidate(ctx, CacheNamespace); err != nil {
		logger.Log.Warn("bulk: cache invalidation failed", zap.Error(err))
	}
}

// withRetry runs fn, retrying transient storage failures exactly once.
// Conflicts are surfaced immediately; the caller retries those.
func (s *BulkService) withRetry(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if appErr, ok := apperr.As(err); ok {
		return appErr
	}
	if isConflict(err) {
		return apperr.Conflict("concurrent modification, retry the request")
	}

	logger.Log.Warn("bulk: transient storage failure, retrying once", zap.Error(err))
	if err = fn(); err == nil {
		return nil
	}
	if appErr, ok := apperr.As(err); ok {
		return appErr
	}
	if isConflict(err) {
		return apperr.Conflict("concurrent modification, retry the request")
	}
	return apperr.TransientStorage(err)
}

// isConflict detects transaction aborts from concurrent writers: Postgres
// serialization/deadlock failures and SQLite's busy error in tests.
func isConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "serialization") ||
		strings.Contains(msg, "database is locked")
}

func (s *BulkService) storage(err error) error {
	if appErr, ok := apperr.As(err); ok {
		return appErr
	}
	return apperr.TransientStorage(err)
}

func messageIDList(messages []models.Message) []uuid.UUID {
	ids := make([]uuid.UUID, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}
	return ids
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
