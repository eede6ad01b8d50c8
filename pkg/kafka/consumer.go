package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// MessageHandler processes one record. A returned error is logged and the
// record is still marked, so a poison message cannot stall the partition.
type MessageHandler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	topics        []string
	handler       MessageHandler
	logger        *zap.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

type ConsumerConfig struct {
	Brokers           []string
	Topics            []string
	GroupID           string
	AutoCommit        bool
	CommitInterval    time.Duration
	SessionTimeout    time.Duration
	RebalanceStrategy string
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V3_3_0_0
	config.Consumer.Return.Errors = true

	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = cfg.AutoCommit
	if cfg.CommitInterval > 0 {
		config.Consumer.Offsets.AutoCommit.Interval = cfg.CommitInterval
	}

	if cfg.SessionTimeout > 0 {
		config.Consumer.Group.Session.Timeout = cfg.SessionTimeout
		config.Consumer.Group.Heartbeat.Interval = cfg.SessionTimeout / 3
	}

	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		balanceStrategy(cfg.RebalanceStrategy),
	}

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("Kafka consumer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.Strings("topics", cfg.Topics),
		zap.String("group_id", cfg.GroupID),
	)

	return newConsumer(consumerGroup, cfg.Topics, handler, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		consumerGroup: group,
		topics:        topics,
		handler:       handler,
		logger:        logger,
		ready:         make(chan struct{}),
	}
}

func balanceStrategy(name string) sarama.BalanceStrategy {
	switch name {
	case "sticky":
		return sarama.NewBalanceStrategySticky()
	case "roundrobin":
		return sarama.NewBalanceStrategyRoundRobin()
	default:
		return sarama.NewBalanceStrategyRange()
	}
}

// Start consumes until ctx is cancelled or the group is closed.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		// Consume returns on every rebalance; loop to rejoin the group
		err := c.consumerGroup.Consume(ctx, c.topics, c)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			c.logger.Info("Consumer group closed, stopping consumer")
			return nil
		case err != nil:
			c.logger.Error("Error from consumer", zap.Error(err))
		}

		if ctx.Err() != nil {
			c.logger.Info("Context cancelled, stopping consumer")
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	if err := c.consumerGroup.Close(); err != nil {
		c.logger.Error("Failed to close consumer group", zap.Error(err))
		return err
	}
	c.logger.Info("Kafka consumer closed")
	return nil
}

// Setup runs at the start of every group session.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.logger.Info("Consumer group rebalanced")
	c.readyOnce.Do(func() { close(c.ready) })
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			c.handle(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, message *sarama.ConsumerMessage) {
	c.logger.Debug("Message received",
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset),
		zap.String("key", string(message.Key)),
	)

	if err := c.handler(ctx, message.Key, message.Value); err != nil {
		c.logger.Error("Failed to process message",
			zap.Error(err),
			zap.String("topic", message.Topic),
			zap.Int32("partition", message.Partition),
			zap.Int64("offset", message.Offset),
		)
	}
}

// WaitReady is closed once the consumer joined its first group session.
func (c *Consumer) WaitReady() <-chan struct{} {
	return c.ready
}
