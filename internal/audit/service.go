package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context) ([]Event, error)
}

// Service records call lifecycle transitions.
//
// IMPORTANT:
// - Audit is internal-only; only admin endpoints read it.
// - Callers treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.CallID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records a lifecycle transition for a call.
func (s *Service) LogTransition(ctx context.Context, typ EventType, callID string, recipientID int64, actorUserID, message string) error {
	return s.Append(ctx, Event{
		Type:        typ,
		CallID:      callID,
		RecipientID: recipientID,
		ActorUserID: actorUserID,
		Message:     message,
	})
}

// List returns every recorded event in append order.
func (s *Service) List(ctx context.Context) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.List(ctx)
}
