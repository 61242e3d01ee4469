package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/tradepost/tradepost-messaging/internal/apperr"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"github.com/tradepost/tradepost-messaging/internal/qcache"
	"github.com/tradepost/tradepost-messaging/internal/realtime"
	"github.com/tradepost/tradepost-messaging/internal/repository"
	"github.com/tradepost/tradepost-messaging/internal/testutil"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	m.Run()
}

// capturePublisher records published events instead of pushing to the hub.
type capturePublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *capturePublisher) Publish(event realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) all() []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Event(nil), p.events...)
}

type BulkServiceTestSuite struct {
	suite.Suite
	db        *testutil.TestDatabase
	redis     *testutil.TestRedis
	publisher *capturePublisher
	svc       *BulkService

	customer *models.User
	supplier *models.User
	outsider *models.User
	thread   *models.Thread
}

func TestBulkServiceTestSuite(t *testing.T) {
	suite.Run(t, new(BulkServiceTestSuite))
}

func (s *BulkServiceTestSuite) SetupTest() {
	s.db = testutil.SetupTestDatabase(s.T())
	s.redis = testutil.SetupTestRedis(s.T())
	s.publisher = &capturePublisher{}

	cache := qcache.New(s.redis.Client, qcache.TTLTiers{
		Short:  30 * time.Second,
		Medium: 2 * time.Minute,
		Long:   10 * time.Minute,
	})

	s.svc = NewBulkService(
		s.db.DB,
		repository.NewThreadRepository(s.db.DB),
		repository.NewMessageRepository(s.db.DB),
		repository.NewOperationRepository(s.db.DB),
		s.publisher,
		cache,
		30*time.Second,
	)

	var err error
	s.customer, err = testutil.CreateTestUser("buyer", "buyer@example.com", "Password1", models.RoleCustomer, models.TierFree)
	s.Require().NoError(err)
	s.supplier, err = testutil.CreateTestUser("seller", "seller@example.com", "Password1", models.RoleSupplier, models.TierStarter)
	s.Require().NoError(err)
	s.outsider, err = testutil.CreateTestUser("lurker", "lurker@example.com", "Password1", models.RoleCustomer, models.TierFree)
	s.Require().NoError(err)
	for _, u := range []*models.User{s.customer, s.supplier, s.outsider} {
		s.Require().NoError(s.db.DB.Create(u).Error)
	}

	s.thread = testutil.CreateTestThread(s.customer.ID, s.supplier.ID)
	s.Require().NoError(s.db.DB.Create(s.thread).Error)
}

func (s *BulkServiceTestSuite) TearDownTest() {
	s.db.Teardown(s.T())
	s.redis.Teardown(s.T())
}

func (s *BulkServiceTestSuite) seedMessages(n int) []*models.Message {
	messages := make([]*models.Message, n)
	for i := range messages {
		msg := testutil.CreateTestMessage(s.thread.ID, s.supplier.ID, []uuid.UUID{s.customer.ID}, "offer update")
		s.Require().NoError(s.db.DB.Create(msg).Error)
		messages[i] = msg
	}
	return messages
}

func (s *BulkServiceTestSuite) reload(id uuid.UUID) *models.Message {
	var msg models.Message
	s.Require().NoError(s.db.DB.First(&msg, "id = ?", id).Error)
	return &msg
}

func (s *BulkServiceTestSuite) TestBulkDelete_ThenUndoRestoresPriorState() {
	messages := s.seedMessages(3)

	// One target already carries a read receipt that must survive the round trip
	withReceipt := messages[0]
	withReceipt.ReadBy = models.ReadReceipts{{UserID: s.supplier.ID, ReadAt: time.Now().Add(-time.Hour)}}
	s.Require().NoError(s.db.DB.Save(withReceipt).Error)

	targets := []uuid.UUID{messages[0].ID, messages[1].ID}
	result, err := s.svc.BulkDelete(context.Background(), s.thread.ID, targets, s.customer.ID)
	s.Require().NoError(err)
	s.Equal(2, result.AffectedCount)
	s.NotEmpty(result.UndoToken)

	for _, id := range targets {
		msg := s.reload(id)
		s.True(msg.IsDeleted())
		s.Require().NotNil(msg.DeletedBy)
		s.Equal(s.customer.ID, *msg.DeletedBy)
	}
	s.False(s.reload(messages[2].ID).IsDeleted(), "untargeted message untouched")

	restored, err := s.svc.Undo(context.Background(), result.OperationID, result.UndoToken)
	s.Require().NoError(err)
	s.Equal(2, restored)

	for _, id := range targets {
		msg := s.reload(id)
		s.False(msg.IsDeleted())
		s.Nil(msg.DeletedBy)
	}
	// The pre-existing receipt came back with the message
	s.True(s.reload(withReceipt.ID).ReadBy.HasReader(s.supplier.ID))
}

func (s *BulkServiceTestSuite) TestBulkDelete_AlreadyDeletedRejected() {
	messages := s.seedMessages(2)

	_, err := s.svc.BulkDelete(context.Background(), s.thread.ID, []uuid.UUID{messages[0].ID}, s.customer.ID)
	s.Require().NoError(err)

	_, err = s.svc.BulkDelete(context.Background(), s.thread.ID, []uuid.UUID{messages[0].ID, messages[1].ID}, s.customer.ID)
	s.Require().Error(err)
	s.True(apperr.IsKind(err, apperr.KindValidation))

	// The batch failed as a whole: the live message was not deleted
	s.False(s.reload(messages[1].ID).IsDeleted())
}

func (s *BulkServiceTestSuite) TestBulkDelete_CrossThreadIDPoisonsWholeBatch() {
	messages := s.seedMessages(2)

	other := testutil.CreateTestThread(s.customer.ID, s.outsider.ID)
	s.Require().NoError(s.db.DB.Create(other).Error)
	foreign := testutil.CreateTestMessage(other.ID, s.outsider.ID, []uuid.UUID{s.customer.ID}, "different conversation")
	s.Require().NoError(s.db.DB.Create(foreign).Error)

	ids := []uuid.UUID{messages[0].ID, messages[1].ID, foreign.ID}
	_, err := s.svc.BulkDelete(context.Background(), s.thread.ID, ids, s.customer.ID)
	s.Require().Error(err)
	s.True(apperr.IsKind(err, apperr.KindAuthorization))

	// No partial application
	for _, msg := range messages {
		s.False(s.reload(msg.ID).IsDeleted())
	}
	s.False(s.reload(foreign.ID).IsDeleted())
}

func (s *BulkServiceTestSuite) TestBulkDelete_NonParticipantRejected() {
	messages := s.seedMessages(1)

	_, err := s.svc.BulkDelete(context.Background(), s.thread.ID, []uuid.UUID{messages[0].ID}, s.outsider.ID)
	s.Require().Error(err)
	s.True(apperr.IsKind(err, apperr.KindAuthorization))
}

func (s *BulkServiceTestSuite) TestBulkDelete_UnknownThreadNotFound() {
	_, err := s.svc.BulkDelete(context.Background(), uuid.New(), []uuid.UUID{uuid.New()}, s.customer.ID)
	s.Require().Error(err)
	s.True(apperr.IsKind(err, apperr.KindNotFound))
}

func (s *BulkServiceTestSuite) TestBulkDelete_BatchSizeBoundary() {
	messages := s.seedMessages(MaxBulkSize)
	ids := make([]uuid.UUID, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}

	result, err := s.svc.BulkDelete(context.Background(), s.thread.ID, ids, s.customer.ID)
	s.Require().NoError(err, "exactly the cap is allowed")
	s.Equal(MaxBulkSize, result.AffectedCount)

	over := make([]uuid.UUID, MaxBulkSize+1)
	for i := range over {
		over[i] = uuid.New()
	}
	_, err = s.svc.BulkDelete(context.Background(), s.thread.ID, over, s.customer.ID)
	s.Require().Error(err)
	s.True(apperr.IsKind(err, apperr.KindValidation))
}

func (s *BulkServiceTestSuite) TestBulkDelete_DuplicateIDsCollapse() {
	messages := s.seedMessages(1)

	ids := []uuid.UUID{messages[0].ID, messages[0].ID, messages[0].ID}
	result, err := s.svc.BulkDelete(context.Background(), s.thread.ID, ids, s.customer.ID)
	s.Require().NoError(err)
	s.Equal(1, result.AffectedCount)
}

func (s *BulkServiceTestSuite) TestBulkDelete_EmptyBatchRejected() {
	_, err := s.svc.BulkDelete(context.Background(), s.thread.ID, nil, s.customer.ID)
	s.Require().Error(err)
	s.True(apperr.IsKind(err, apperr.KindValidation))
}

func (s *BulkServiceTestSuite) TestBulkMarkRead_SetThenClear() {
	messages := s.seedMessages(2)
	ids := []uuid.UUID{messages[0].ID, messages[1].ID}

	_, err := s.svc.BulkMarkRead(context.Background(), s.thread.ID, ids, s.customer.ID, true)
	s.Require().NoError(err)
	for _, id := range ids {
		s.True(s.reload(id).ReadBy.HasReader(s.customer.ID))
	}

	// Marking again is a no-op, not a duplicate receipt
	_, err = s.svc.BulkMarkRead(context.Background(), s.thread.ID, ids, s.customer.ID, true)
	s.Require().NoError(err)
	s.Len(s.reload(ids[0]).ReadBy, 1)

	_, err = s.svc.BulkMarkRead(context.Background(), s.thread.ID, ids, s.customer.ID, false)
	s.Require().NoError(err)
	for _, id := range ids {
		s.False(s.reload(id).ReadBy.HasReader(s.customer.ID))
	}
}

func (s *BulkServiceTestSuite) TestBulkMarkRead_ClearPreservesOtherReaders() {
	messages := s.seedMessages(1)
	msg := messages[0]
	msg.ReadBy = models.ReadReceipts{{UserID: s.supplier.ID, ReadAt: time.Now()}}
	s.Require().NoError(s.db.DB.Save(msg).Error)

	_, err := s.svc.BulkMarkRead(context.Background(), s.thread.ID, []uuid.UUID{msg.ID}, s.customer.ID, true)
	s.Require().NoError(err)
	_, err = s.svc.BulkMarkRead(context.Background(), s.thread.ID, []uuid.UUID{msg.ID}, s.customer.ID, false)
	s.Require().NoError(err)

	readBy := s.reload(msg.ID).ReadBy
	s.False(readBy.HasReader(s.customer.ID))
	s.True(readBy.HasReader(s.supplier.ID), "other participant's receipt survives")
}

func (s *BulkServiceTestSuite) TestBulkMarkRead_UndoRestoresReceipts() {
	messages := s.seedMessages(2)
	ids := []uuid.UUID{messages[0].ID, messages[1].ID}

	result, err := s.svc.BulkMarkRead(context.Background(), s.thread.ID, ids, s.customer.ID, true)
	s.Require().NoError(err)

	restored, err := s.svc.Undo(context.Background(), result.OperationID, result.UndoToken)
	s.Require().NoError(err)
	s.Equal(2, restored)

	for _, id := range ids {
		s.False(s.reload(id).ReadBy.HasReader(s.customer.ID))
	}
}

func (s *BulkServiceTestSuite) TestUndo_WrongTokenRejected() {
	messages := s.seedMessages(1)
	result, err := s.svc.BulkDelete(context.Background(), s.thread.ID, []uuid.UUID{messages[0].ID}, s.customer.ID)
	s.Require().NoError(err)

	_, err = s.svc.Undo(context.Background(), result.OperationID, "deadbeef")
	s.Require().Error(err)
	s.True(apperr.IsKind(err, apperr.KindUndoExpiredOrConsumed))

	// The failed undo changed nothing: message stays deleted, token stays valid
	s.True(s.reload(messages[0].ID).IsDeleted())
	_, err = s.svc.Undo(context.Background(), result.OperationID, result.UndoToken)
	s.NoError(err)
}

func (s *BulkServiceTestSuite) TestUndo_SecondUndoRejected() {
	messages := s.seedMessages(1)
	result, err := s.svc.BulkDelete(context.Background(), s.thread.ID, []uuid.UUID{messages[0].ID}, s.customer.ID)
	s.Require().NoError(err)

	_, err = s.svc.Undo(context.Background(), result.OperationID, result.UndoToken)
	s.Require().NoError(err)

	_, err = s.svc.Undo(context.Background(), result.OperationID, result.UndoToken)
	s.Require().Error(err)
	s.True(apperr.IsKind(err, apperr.KindUndoExpiredOrConsumed))
	s.False(s.reload(messages[0].ID).IsDeleted(), "first undo stands")
}

func (s *BulkServiceTestSuite) TestUndo_ExpiredWindowRejected() {
	messages := s.seedMessages(1)
	result, err := s.svc.BulkDelete(context.Background(), s.thread.ID, []uuid.UUID{messages[0].ID}, s.customer.ID)
	s.Require().NoError(err)

	s.svc.now = func() time.Time { return time.Now().Add(31 * time.Second) }

	_, err = s.svc.Undo(context.Background(), result.OperationID, result.UndoToken)
	s.Require().Error(err)
	s.True(apperr.IsKind(err, apperr.KindUndoExpiredOrConsumed))
	s.True(s.reload(messages[0].ID).IsDeleted(), "expired undo leaves the delete in place")
}

func (s *BulkServiceTestSuite) TestUndo_UnknownOperationNotFound() {
	_, err := s.svc.Undo(context.Background(), uuid.New(), "whatever")
	s.Require().Error(err)
	s.True(apperr.IsKind(err, apperr.KindNotFound))
}

func (s *BulkServiceTestSuite) TestBulkDelete_PublishesOperationEvent() {
	messages := s.seedMessages(1)
	result, err := s.svc.BulkDelete(context.Background(), s.thread.ID, []uuid.UUID{messages[0].ID}, s.customer.ID)
	s.Require().NoError(err)

	_, err = s.svc.Undo(context.Background(), result.OperationID, result.UndoToken)
	s.Require().NoError(err)

	events := s.publisher.all()
	s.Require().Len(events, 2, "one event for the delete, one for the undo")
	for _, event := range events {
		s.Equal(realtime.EventOperation, event.Type)
		s.Equal(s.thread.ID, event.ThreadID)
	}
}

func (s *BulkServiceTestSuite) TestBulkDelete_InvalidatesListingCache() {
	messages := s.seedMessages(1)

	_, err := s.redis.Client.Get(context.Background(), "qcache:ver:"+CacheNamespace).Int64()
	s.Require().Error(err, "no version key before any write")

	_, err = s.svc.BulkDelete(context.Background(), s.thread.ID, []uuid.UUID{messages[0].ID}, s.customer.ID)
	s.Require().NoError(err)

	after, err := s.redis.Client.Get(context.Background(), "qcache:ver:"+CacheNamespace).Int64()
	s.Require().NoError(err)
	s.Equal(int64(1), after)
}
