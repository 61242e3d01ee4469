package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tradepost/tradepost-messaging/internal/admission"
	"github.com/tradepost/tradepost-messaging/internal/apperr"
	"github.com/tradepost/tradepost-messaging/internal/models"
	"github.com/tradepost/tradepost-messaging/internal/moderation"
	"github.com/tradepost/tradepost-messaging/internal/notify"
	"github.com/tradepost/tradepost-messaging/internal/qcache"
	"github.com/tradepost/tradepost-messaging/internal/realtime"
	"github.com/tradepost/tradepost-messaging/internal/repository"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
	"go.uber.org/zap"
)

// Sender identifies the acting user. Always built from verified session
// claims — client-supplied sender fields are ignored.
type Sender struct {
	UserID   uuid.UUID
	Username string
	Tier     models.Tier
}

// MessageService covers the thread/message accessor surface: admission-gated
// sends and thread creation, plus the cached, filterable listing.
type MessageService struct {
	threadRepo  *repository.ThreadRepository
	messageRepo *repository.MessageRepository
	admission   *admission.Controller
	checker     moderation.Checker
	sink        notify.Sink
	publisher   EventPublisher
	cache       *qcache.Cache
}

func NewMessageService(
	threadRepo *repository.ThreadRepository,
	messageRepo *repository.MessageRepository,
	admissionCtrl *admission.Controller,
	checker moderation.Checker,
	sink notify.Sink,
	publisher EventPublisher,
	cache *qcache.Cache,
) *MessageService {
	return &MessageService{
		threadRepo:  threadRepo,
		messageRepo: messageRepo,
		admission:   admissionCtrl,
		checker:     checker,
		sink:        sink,
		publisher:   publisher,
		cache:       cache,
	}
}

// CreateThread opens a conversation between the sender and participantIDs.
// Thread quota is checked first; the counter commits only after the create
// succeeds.
func (s *MessageService) CreateThread(ctx context.Context, sender Sender, participantIDs []uuid.UUID) (*models.Thread, error) {
	participants := dedupe(append(participantIDs, sender.UserID))
	if len(participants) < 2 {
		return nil, apperr.Validation("a thread needs at least two participants")
	}

	if _, err := s.admission.CheckThread(ctx, sender.UserID, sender.Tier); err != nil {
		return nil, err
	}

	thread := &models.Thread{
		ID:             uuid.New(),
		ParticipantIDs: participants,
		Prefs:          models.ThreadPrefs{},
		CreatedAt:      time.Now(),
	}

	if err := s.threadRepo.Create(thread); err != nil {
		return nil, apperr.TransientStorage(err)
	}

	if err := s.admission.CommitThread(ctx, sender.UserID); err != nil {
		logger.Log.Warn("thread counter commit failed", zap.Error(err))
	}

	return thread, nil
}

// Send posts one message to a thread. Order of checks matters: everything
// runs before the insert so a rejected send has no side effects, and the
// quota counter commits only after the insert succeeds.
func (s *MessageService) Send(ctx context.Context, sender Sender, threadID uuid.UUID, content string) (*models.Message, error) {
	if err := s.admission.CheckContent(content, sender.Tier); err != nil {
		return nil, err
	}
	if _, err := s.admission.CheckMessage(ctx, sender.UserID, sender.Tier); err != nil {
		return nil, err
	}

	thread, err := s.threadRepo.GetByID(threadID)
	if err != nil {
		return nil, apperr.TransientStorage(err)
	}
	if thread == nil {
		return nil, apperr.NotFound("thread %s not found", threadID)
	}
	if !thread.HasParticipant(sender.UserID) {
		return nil, apperr.Authorization("user is not a participant of this thread")
	}

	ok, err := s.checker.Check(ctx, content)
	if err != nil {
		logger.Log.Warn("content checker unavailable, letting message through", zap.Error(err))
	} else if !ok {
		return nil, apperr.Validation("message was rejected by the content filter")
	}

	recipients := make(models.UUIDList, 0, len(thread.ParticipantIDs)-1)
	for _, id := range thread.ParticipantIDs {
		if id != sender.UserID {
			recipients = append(recipients, id)
		}
	}

	msg := &models.Message{
		ID:           uuid.New(),
		ThreadID:     threadID,
		SenderID:     sender.UserID,
		RecipientIDs: recipients,
		Content:      content,
		CreatedAt:    time.Now(),
		ReadBy:       models.ReadReceipts{},
	}

	if err := s.messageRepo.Create(msg); err != nil {
		return nil, apperr.TransientStorage(err)
	}

	if err := s.admission.CommitMessage(ctx, sender.UserID); err != nil {
		logger.Log.Warn("message counter commit failed", zap.Error(err))
	}

	s.publisher.Publish(realtime.NewEvent(realtime.EventMessageCreated, threadID, msg))

	if err := s.cache.Invalidate(ctx, CacheNamespace); err != nil {
		logger.Log.Warn("send: cache invalidation failed", zap.Error(err))
	}

	for _, recipientID := range recipients {
		notify.Dispatch(s.sink, notify.Notification{
			UserID:   recipientID,
			ThreadID: threadID,
			Subject:  "New message from " + sender.Username,
			Body:     content,
		})
	}

	return msg, nil
}

// Edit replaces a message's content, keeping the prior version in the edit
// trail. Only the original sender may edit; deleted messages are immutable.
func (s *MessageService) Edit(ctx context.Context, sender Sender, messageID uuid.UUID, content string) (*models.Message, error) {
	if err := s.admission.CheckContent(content, sender.Tier); err != nil {
		return nil, err
	}

	msg, err := s.messageRepo.GetByID(messageID)
	if err != nil {
		return nil, apperr.TransientStorage(err)
	}
	if msg == nil {
		return nil, apperr.NotFound("message %s not found", messageID)
	}
	if msg.IsDeleted() {
		return nil, apperr.Validation("deleted messages cannot be edited")
	}
	if msg.SenderID != sender.UserID {
		return nil, apperr.Authorization("only the sender may edit a message")
	}

	ok, err := s.checker.Check(ctx, content)
	if err != nil {
		logger.Log.Warn("content checker unavailable, letting edit through", zap.Error(err))
	} else if !ok {
		return nil, apperr.Validation("message was rejected by the content filter")
	}

	now := time.Now()
	history := append(msg.EditHistory, models.EditRevision{Content: msg.Content, EditedAt: now})

	if err := s.messageRepo.ApplyEdit(messageID, content, now, history); err != nil {
		return nil, apperr.TransientStorage(err)
	}

	msg.Content = content
	msg.EditedAt = &now
	msg.EditHistory = history

	s.publisher.Publish(realtime.NewEvent(realtime.EventMessageUpdated, msg.ThreadID, msg))

	if err := s.cache.Invalidate(ctx, CacheNamespace); err != nil {
		logger.Log.Warn("edit: cache invalidation failed", zap.Error(err))
	}

	return msg, nil
}

// ThreadPage is the paginated listing response.
type ThreadPage struct {
	Messages []models.Message `json:"messages"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// List returns a page of a thread's messages. The caller must already be
// authorized for the thread; read paths never open transactions.
func (s *MessageService) List(ctx context.Context, userID uuid.UUID, filter repository.ListFilter) (*ThreadPage, error) {
	thread, err := s.threadRepo.GetByID(filter.ThreadID)
	if err != nil {
		return nil, apperr.TransientStorage(err)
	}
	if thread == nil {
		return nil, apperr.NotFound("thread %s not found", filter.ThreadID)
	}
	if !thread.HasParticipant(userID) {
		return nil, apperr.Authorization("user is not a participant of this thread")
	}

	messages, total, err := s.messageRepo.List(filter)
	if err != nil {
		return nil, apperr.TransientStorage(err)
	}

	return &ThreadPage{
		Messages: messages,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// Threads lists the conversations the user participates in, newest first.
func (s *MessageService) Threads(userID uuid.UUID, limit int) ([]models.Thread, error) {
	threads, err := s.threadRepo.ListForUser(userID, limit)
	if err != nil {
		return nil, apperr.TransientStorage(err)
	}
	return threads, nil
}

// Thread loads a thread for subscription authorization.
func (s *MessageService) Thread(threadID uuid.UUID) (*models.Thread, error) {
	thread, err := s.threadRepo.GetByID(threadID)
	if err != nil {
		return nil, apperr.TransientStorage(err)
	}
	if thread == nil {
		return nil, apperr.NotFound("thread %s not found", threadID)
	}
	return thread, nil
}

// SetThreadPref stores the acting user's pin/mute flags for a thread.
func (s *MessageService) SetThreadPref(userID, threadID uuid.UUID, pref models.ThreadPref) error {
	thread, err := s.Thread(threadID)
	if err != nil {
		return err
	}
	if !thread.HasParticipant(userID) {
		return apperr.Authorization("user is not a participant of this thread")
	}
	if err := s.threadRepo.SetPref(threadID, userID, pref); err != nil {
		return apperr.TransientStorage(err)
	}
	return nil
}
