// Package event publishes account lifecycle events for other services.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/domain"
	pkgkafka "github.com/iamrehman16/DataTricks-Team-Server/pkg/kafka"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/logger"
)

// Topics published by the identity service.
var (
	TopicUserRegistered = pkgkafka.Topic("user", "registered")
	TopicUserVerified   = pkgkafka.Topic("user", "verified")
	TopicUserDeleted    = pkgkafka.Topic("user", "deleted")
)

const (
	AggregateTypeUser = "user"
	SourceIdentity    = "identity-service"
)

// UserData is the payload of every user lifecycle event. It never carries
// credentials or codes.
type UserData struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name,omitempty"`
	IsVerified bool      `json:"is_verified"`
	OccurredAt time.Time `json:"occurred_at"`
}

type publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes user domain events to Kafka.
type Producer struct {
	kafka  publisher
	logger *slog.Logger
}

// NewProducer creates an event producer on top of a shared Kafka producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserRegistered, user)
}

func (p *Producer) PublishUserVerified(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserVerified, user)
}

func (p *Producer) PublishUserDeleted(ctx context.Context, user *domain.User) error {
	return p.publish(ctx, TopicUserDeleted, user)
}

func (p *Producer) publish(ctx context.Context, topic string, user *domain.User) error {
	data := UserData{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		IsVerified: user.IsVerified,
		OccurredAt: time.Now().UTC(),
	}

	event, err := pkgkafka.NewEvent(topic, user.ID, AggregateTypeUser, SourceIdentity, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published user event",
		slog.String("topic", topic),
		slog.String("user_id", user.ID),
	)
	return nil
}

// Noop discards events. It is used when Kafka is disabled.
type Noop struct{}

func (Noop) PublishUserRegistered(context.Context, *domain.User) error { return nil }
func (Noop) PublishUserVerified(context.Context, *domain.User) error   { return nil }
func (Noop) PublishUserDeleted(context.Context, *domain.User) error    { return nil }
