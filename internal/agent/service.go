// Package agent connects a monetai SDK session to Kafka: app events flow in,
// discount changes and expiries flow out.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Wuchinator/monetai-go/pkg/monetai"
	"go.uber.org/zap"
)

var ErrMissingEventName = errors.New("event_name is required")

// EventLogger is the part of the SDK the consumer side needs.
type EventLogger interface {
	LogEventWith(ctx context.Context, opts monetai.LogEventOptions)
}

// Publisher sends one keyed record. *kafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, key, kind string, value any) error
}

type Service struct {
	sdk       EventLogger
	publisher Publisher
	userID    func() string
	now       func() time.Time
	logger    *zap.Logger

	records chan DiscountRecord
}

// NewService builds the bridge. userID reports the session's user and keys
// records that carry no discount. publisher may be nil, in which case
// discount records are only logged.
func NewService(sdk EventLogger, publisher Publisher, userID func() string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sdk:       sdk,
		publisher: publisher,
		userID:    userID,
		now:       time.Now,
		logger:    logger,
		records:   make(chan DiscountRecord, 64),
	}
}

// CreateMessageHandler returns the Kafka handler for the app events topic.
func (s *Service) CreateMessageHandler() func(ctx context.Context, key, value []byte) error {
	return func(ctx context.Context, key, value []byte) error {
		var ev AppEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			s.logger.Error("Failed to unmarshal app event",
				zap.Error(err),
				zap.String("value", string(value)),
			)
			return fmt.Errorf("failed to unmarshal app event: %w", err)
		}
		if ev.EventName == "" {
			return ErrMissingEventName
		}

		opts := monetai.LogEventOptions{EventName: ev.EventName, Params: ev.Params}
		if ev.CreatedAt != nil {
			opts.CreatedAt = *ev.CreatedAt
		}
		s.sdk.LogEventWith(ctx, opts)

		s.logger.Debug("App event forwarded",
			zap.String("event_name", ev.EventName),
			zap.String("key", string(key)),
		)
		return nil
	}
}

// OnDiscountChange is registered with SDK.Subscribe. It only enqueues, so
// it never blocks the SDK; Run does the publishing.
func (s *Service) OnDiscountChange(d *monetai.Discount) {
	s.enqueue(newDiscountRecord(RecordDiscountChanged, s.userID(), d, s.now()))
}

// OnDiscountExpired is the expiry watcher callback.
func (s *Service) OnDiscountExpired(d *monetai.Discount) {
	s.enqueue(newDiscountRecord(RecordDiscountExpired, s.userID(), d, s.now()))
}

func (s *Service) enqueue(rec DiscountRecord) {
	select {
	case s.records <- rec:
	default:
		s.logger.Warn("Discount record dropped, publish buffer full",
			zap.String("type", rec.Type),
			zap.String("app_user_id", rec.AppUserID),
		)
	}
}

// Run publishes queued discount records until ctx is done.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case rec := <-s.records:
			s.publish(ctx, rec)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) publish(ctx context.Context, rec DiscountRecord) {
	fields := []zap.Field{
		zap.String("type", rec.Type),
		zap.String("app_user_id", rec.AppUserID),
		zap.Bool("has_discount", rec.HasDiscount),
		zap.Bool("active", rec.Active),
	}

	if s.publisher == nil {
		s.logger.Info("Discount update", fields...)
		return
	}
	if err := s.publisher.Publish(ctx, rec.AppUserID, rec.Type, rec); err != nil {
		s.logger.Error("Failed to publish discount record", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("Discount record published", fields...)
}
