package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/topicquests/tqos-asr-api/pkg/gram"
	"github.com/topicquests/tqos-asr-api/pkg/logger"
	"github.com/topicquests/tqos-asr-api/pkg/merge"
	"github.com/topicquests/tqos-asr-api/pkg/txstore"
)

var errUnchanged = errors.New("unchanged")

// Handler processes queue messages against one store. Each worker owns its
// own Handler.
type Handler struct {
	store *txstore.Store
	merge *merge.Engine
	tries int
}

// NewHandler returns a handler on s. maxRetries bounds the optimistic-lock
// retries of a single message.
func NewHandler(s *txstore.Store, maxRetries int) *Handler {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Handler{
		store: s,
		merge: merge.New(s, merge.Options{MaxRetries: maxRetries}),
		tries: maxRetries,
	}
}

func (h *Handler) Process(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case GramMergeQueue:
		return h.ProcessGramMerge(ctx, body)
	case TopicMergeQueue:
		return h.ProcessTopicMerge(ctx, body)
	default:
		return fmt.Errorf("%w: unknown queue %s", ErrInvalidMessage, queueName)
	}
}

func (h *Handler) ProcessGramMerge(ctx context.Context, body []byte) error {
	msg, err := decode[GramMergeMessage](body)
	if err != nil {
		return err
	}

	r := txstore.NewResult()
	out, err := h.merge.MergeWithRetry(ctx, r, msg.TargetID, msg.SourceID)
	if err != nil {
		return err
	}
	if out.NoOp {
		logger.Debug("[Queue] grams already merged", "target_id", msg.TargetID, "source_id", msg.SourceID)
	}
	return nil
}

// ProcessTopicMerge substitutes the new locator for the old one on every
// listed gram. Grams that no longer exist are skipped.
func (h *Handler) ProcessTopicMerge(ctx context.Context, body []byte) error {
	msg, err := decode[TopicMergeMessage](body)
	if err != nil {
		return err
	}

	r := txstore.NewResult()
	changed := 0
	for _, id := range msg.GramIDs {
		_, err := gram.Update(ctx, h.store, nil, id, func(g *gram.WordGram) error {
			if !g.SubstituteTopicLocator(msg.OldLocator, msg.NewLocator) {
				return errUnchanged
			}
			return nil
		}, h.tries)
		switch {
		case err == nil:
			changed++
		case errors.Is(err, errUnchanged):
		case errors.Is(err, gram.ErrNotFound):
			logger.Warn("[Queue] gram for topic merge not found", "gram_id", id, "old_locator", msg.OldLocator)
		default:
			r.AddError(fmt.Errorf("gram %s: %w", id, err))
		}
	}

	logger.Info("[Queue] topic locator substituted",
		"old_locator", msg.OldLocator, "new_locator", msg.NewLocator, "grams", changed)
	return r.Err()
}
