// Package notify delivers overload alerts. Notifications are persisted as
// in-app rows and optionally fanned out by email; email delivery is
// fire-and-forget with no confirmation contract.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/itss-group/projectpulse/internal/domain"
)

// Notifier is the fire-and-forget notification collaborator consumed by the
// pressure sweep.
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, message string) error
}

// Store persists notifications and resolves recipients.
type Store interface {
	SaveNotification(ctx context.Context, n *domain.Notification) error
	UserByID(ctx context.Context, id int64) (*domain.User, error)
}

// Message is an outbound email.
type Message struct {
	ToName  string
	ToEmail string
	Subject string
	Body    string
}

// Mailer sends messages asynchronously; implementations must not block the
// caller on delivery.
type Mailer interface {
	SendMessages(messages ...*Message)
}

// Service persists each notification and forwards it to the mailer when the
// recipient has an email address. Mailer failures never surface here.
type Service struct {
	store  Store
	mailer Mailer
	logger *slog.Logger
}

var _ Notifier = (*Service)(nil)

// NewService creates a notification service. mailer may be nil to disable
// email fan-out.
func NewService(store Store, mailer Mailer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, mailer: mailer, logger: logger}
}

// Notify persists the notification and dispatches email best-effort.
func (s *Service) Notify(ctx context.Context, userID int64, title, message string) error {
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolving notification recipient %d: %w", userID, err)
	}

	n := domain.NewNotification(userID, title, message)
	if err := s.store.SaveNotification(ctx, n); err != nil {
		return fmt.Errorf("persisting notification: %w", err)
	}

	if s.mailer != nil && user.Email != "" {
		s.mailer.SendMessages(&Message{
			ToName:  user.FullName,
			ToEmail: user.Email,
			Subject: title,
			Body:    message,
		})
	}

	s.logger.Debug("notification dispatched", "user_id", userID, "title", title)
	return nil
}
