package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator"
)

// ErrInvalidMessage marks a message that can never be processed. It goes
// to the dead-letter queue without retries.
var ErrInvalidMessage = errors.New("invalid message")

var validate = validator.New()

// GramMergeMessage asks for SourceID to be merged into TargetID.
type GramMergeMessage struct {
	TargetID string `json:"target_id" validate:"required"`
	SourceID string `json:"source_id" validate:"required,nefield=TargetID"`
}

// TopicMergeMessage reports that the topic map merged OldLocator into
// NewLocator. GramIDs are the vertices that reference OldLocator.
type TopicMergeMessage struct {
	OldLocator string   `json:"old_locator" validate:"required"`
	NewLocator string   `json:"new_locator" validate:"required,nefield=OldLocator"`
	GramIDs    []string `json:"gram_ids" validate:"required,min=1,dive,required"`
}

func decode[T any](body []byte) (*T, error) {
	msg := new(T)
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := validate.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return msg, nil
}

// PublishGramMerge validates msg and routes it to GramMergeQueue.
func PublishGramMerge(ch Publisher, msg GramMergeMessage) error {
	return publish(ch, GramMergeQueue, msg)
}

// PublishTopicMerge validates msg and routes it to TopicMergeQueue.
func PublishTopicMerge(ch Publisher, msg TopicMergeMessage) error {
	return publish(ch, TopicMergeQueue, msg)
}

func publish(ch Publisher, queueName string, msg any) error {
	if err := validate.Struct(msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return PublishFIFO(ch, queueName, b)
}
