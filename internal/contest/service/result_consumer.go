package service

import (
	"context"
	"errors"

	"eduoj/internal/common/mq"
	"eduoj/pkg/utils/logger"

	"go.uber.org/zap"
)

// ResultConsumer feeds judge.result messages into the dispatcher.
type ResultConsumer struct {
	consumer   mq.Consumer
	dispatcher *Dispatcher
}

// NewResultConsumer creates a consumer for judge reports.
func NewResultConsumer(consumer mq.Consumer, dispatcher *Dispatcher) *ResultConsumer {
	return &ResultConsumer{consumer: consumer, dispatcher: dispatcher}
}

// Subscribe registers the handler on topic. Consumption begins when the
// queue is started.
func (c *ResultConsumer) Subscribe(ctx context.Context, topic, consumerGroup string, opts *mq.SubscribeOptions) error {
	if c == nil || c.consumer == nil {
		return errors.New("message queue is nil")
	}
	if c.dispatcher == nil {
		return errors.New("dispatcher is nil")
	}
	if topic == "" {
		return errors.New("result topic is required")
	}
	options := opts
	if options == nil {
		options = &mq.SubscribeOptions{}
	}
	if options.ConsumerGroup == "" {
		options.ConsumerGroup = consumerGroup
	}
	logger.Info(ctx, "subscribing to judge results",
		zap.String("topic", topic), zap.String("group", options.ConsumerGroup),
		zap.String("dead_letter_topic", options.DeadLetterTopic))
	return c.consumer.Subscribe(ctx, topic, c.dispatcher.HandleResultMessage, options)
}
