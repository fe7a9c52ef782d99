package queue

import (
	"errors"
	"time"

	"github.com/topicquests/tqos-asr-api/pkg/gram"
	"github.com/topicquests/tqos-asr-api/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// MaxRetries is the number of trips through the retry queue before a
	// message is dead-lettered.
	MaxRetries = 10
	RetryDelay = 10 * time.Second
)

// Permanent reports whether err will fail again however often the message
// is retried.
func Permanent(err error) bool {
	return errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, gram.ErrCorruptRedirectChain) ||
		errors.Is(err, gram.ErrSelfRedirect)
}

func retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// HandleProcessingError routes a failed delivery to the retry queue, or to
// the dead-letter queue once it ran out of retries or cannot succeed. The
// delivery is acked after the copy is published and requeued when that
// publish fails.
func HandleProcessingError(ch Publisher, msg amqp091.Delivery, queueName string, cause error) {
	n := retries(msg.Headers)

	if n >= MaxRetries || Permanent(cause) {
		dlqName := queueName + "_dlq"
		logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "retries", n)
		pubErr := ch.Publish(
			"",
			dlqName,
			false,
			false,
			amqp091.Publishing{
				ContentType: msg.ContentType,
				Body:        msg.Body,
				Headers:     msg.Headers,
			},
		)
		settle(msg, dlqName, pubErr)
		return
	}

	retryName := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-retries"] = int32(n + 1)

	pubErr := ch.Publish(
		"",
		retryName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	settle(msg, retryName, pubErr)
}

func settle(msg amqp091.Delivery, target string, pubErr error) {
	if pubErr != nil {
		logger.Error("[Queue] Failed to publish message", "queue", target, "err", pubErr)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
