package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/liberatelabs/liberate/db/docstore"
	"github.com/liberatelabs/liberate/db/models"
	"github.com/liberatelabs/liberate/pkg/reactive"
	"github.com/liberatelabs/liberate/security"
)

// EventMessageReceived fires after a message is stored.
const EventMessageReceived = "message_received"

var ErrEmptyMessage = errors.New("message body must not be empty")

// ErrPersistence wraps a document-store failure.
type ErrPersistence struct {
	Err error
}

func (e *ErrPersistence) Error() string {
	return "chat persistence failure: " + e.Err.Error()
}

func (e *ErrPersistence) Unwrap() error {
	return e.Err
}

type Config struct {
	Logger    *slog.Logger
	Messages  *docstore.Collection
	Bus       *reactive.Bus
	Sanitizer *security.Sanitizer
	Now       func() time.Time // nil means time.Now
}

// Service handles direct messages between two users.
type Service struct {
	logger    *slog.Logger
	messages  *docstore.Collection
	bus       *reactive.Bus
	sanitizer *security.Sanitizer
	now       func() time.Time
}

func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sanitizer := cfg.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewSanitizer()
	}
	return &Service{
		logger:    logger.WithGroup("chat"),
		messages:  cfg.Messages,
		bus:       cfg.Bus,
		sanitizer: sanitizer,
		now:       now,
	}
}

// Send stores a message from one user to another and announces it.
func (s *Service) Send(ctx context.Context, fromID, toID, body string) (*models.Message, error) {
	body = s.sanitizer.Sanitize(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}

	msg := &models.Message{
		ID:        uuid.New().String(),
		FromID:    fromID,
		ToID:      toID,
		Body:      body,
		CreatedAt: s.now(),
	}

	if err := s.messages.InsertOne(ctx, msg.ID, msg); err != nil {
		return nil, &ErrPersistence{Err: err}
	}

	s.logger.Debug("message sent", "from", fromID, "to", toID)
	s.bus.Emit(EventMessageReceived, msg)
	return msg, nil
}

// Conversation returns the messages exchanged between two users,
// oldest first, capped at limit (the most recent ones win).
func (s *Service) Conversation(ctx context.Context, a, b string, limit int) ([]models.Message, error) {
	var sent, received []models.Message
	if err := s.messages.Find(ctx, docstore.Filter{"from_id": a, "to_id": b}, docstore.FindOptions{}, &sent); err != nil {
		return nil, &ErrPersistence{Err: err}
	}
	if a != b {
		if err := s.messages.Find(ctx, docstore.Filter{"from_id": b, "to_id": a}, docstore.FindOptions{}, &received); err != nil {
			return nil, &ErrPersistence{Err: err}
		}
	}

	all := append(sent, received...)
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// MarkRead flags a message as read by the recipient.
func (s *Service) MarkRead(ctx context.Context, messageID string) error {
	if _, err := s.messages.UpdateOne(ctx, docstore.Filter{"message_id": messageID}, docstore.Update{
		Set: map[string]any{"read": true},
	}); err != nil {
		return &ErrPersistence{Err: err}
	}
	return nil
}
