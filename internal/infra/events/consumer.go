// Package events consumes reminder interaction events from Kafka, e.g.
// delivery receipts and clicks reported by an upstream mail gateway.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"renewal_reminder/internal/domain/reminder"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// InteractionEvent is the message payload.
type InteractionEvent struct {
	EntryID    string    `json:"entry_id"`
	Type       string    `json:"type"`
	Outcome    string    `json:"outcome,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Tracker records interactions on ledger entries.
type Tracker interface {
	TrackInteraction(ctx context.Context, entryID string, typ reminder.InteractionType, outcome string, occurredAt time.Time) (*reminder.Entry, bool, error)
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// InteractionConsumer applies interaction events to the ledger. Messages are
// committed once handled; a message that can never be applied (bad payload,
// unknown entry) is logged and committed so it does not block the partition.
type InteractionConsumer struct {
	reader  ReaderInterface
	tracker Tracker
	logger  *logrus.Entry
	backoff time.Duration
}

func NewInteractionConsumer(cfg ConsumerConfig, tracker Tracker, logger *logrus.Entry) (*InteractionConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka topic and group id are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		MinBytes:    1,
		MaxBytes:    1 << 20,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})
	return newInteractionConsumer(reader, tracker, logger), nil
}

func newInteractionConsumer(reader ReaderInterface, tracker Tracker, logger *logrus.Entry) *InteractionConsumer {
	return &InteractionConsumer{
		reader:  reader,
		tracker: tracker,
		logger:  logger.WithField("component", "interaction_consumer"),
		backoff: time.Second,
	}
}

// Run consumes until ctx is cancelled.
func (c *InteractionConsumer) Run(ctx context.Context) error {
	c.logger.Info("Interaction consumer started")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Interaction consumer stopped")
				return nil
			}
			c.logger.WithError(err).Error("Failed to fetch message")
			if !sleep(ctx, c.backoff) {
				return nil
			}
			continue
		}

		// Transient failures retry the same message; the offset only moves on commit.
		for {
			err = c.handle(ctx, m)
			if err == nil {
				break
			}
			c.logger.WithError(err).WithField("offset", m.Offset).Error("Failed to apply interaction, retrying")
			if !sleep(ctx, c.backoff) {
				return nil
			}
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).WithField("offset", m.Offset).Error("Failed to commit message")
		}
	}
}

// handle returns an error only for failures worth retrying.
func (c *InteractionConsumer) handle(ctx context.Context, m kafka.Message) error {
	logger := c.logger.WithFields(logrus.Fields{"partition": m.Partition, "offset": m.Offset})

	var ev InteractionEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		logger.WithError(err).Warn("Dropping malformed interaction event")
		return nil
	}

	_, recorded, err := c.tracker.TrackInteraction(ctx, ev.EntryID, reminder.InteractionType(ev.Type), ev.Outcome, ev.OccurredAt)
	switch {
	case err == nil:
		logger.WithFields(logrus.Fields{"entry_id": ev.EntryID, "type": ev.Type, "recorded": recorded}).Debug("Interaction event applied")
		return nil
	case errors.Is(err, reminder.ErrInvalidInteraction), errors.Is(err, reminder.ErrEntryNotFound):
		logger.WithError(err).WithField("entry_id", ev.EntryID).Warn("Dropping interaction event")
		return nil
	}
	return err
}

func (c *InteractionConsumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
