package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dochobbs/claraproviderios-sub001/internal/api"
	"github.com/dochobbs/claraproviderios-sub001/internal/models"
)

// annotationFetcher is the slice of the backend client the cache needs for
// bulk prefetch.
type annotationFetcher interface {
	GetAnnotation(ctx context.Context, conversationID string) (*models.Annotation, error)
}

// AnnotationCache holds provider notes/tags per conversation, populated
// lazily or via bulk prefetch. Notes are an optional enhancement: prefetch
// tolerates individual failures silently.
type AnnotationCache struct {
	kv      KVStore
	fetcher annotationFetcher
	logger  *zap.Logger
}

func NewAnnotationCache(kv KVStore, fetcher annotationFetcher, logger *zap.Logger) *AnnotationCache {
	return &AnnotationCache{kv: kv, fetcher: fetcher, logger: logger}
}

func annotationKey(conversationID string) string {
	return "review:note:" + models.ConversationKey(conversationID)
}

// Get returns the cached annotation or ErrCacheMiss.
func (c *AnnotationCache) Get(ctx context.Context, conversationID string) (*models.Annotation, error) {
	raw, err := c.kv.Get(ctx, annotationKey(conversationID))
	if err != nil {
		return nil, err
	}
	var note models.Annotation
	if err := json.Unmarshal([]byte(raw), &note); err != nil {
		return nil, fmt.Errorf("decode cached annotation: %w", err)
	}
	return &note, nil
}

// Set stores or replaces the annotation for its conversation.
func (c *AnnotationCache) Set(ctx context.Context, note models.Annotation) error {
	raw, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encode annotation: %w", err)
	}
	if err := c.kv.Set(ctx, annotationKey(note.ConversationID), string(raw), 0); err != nil {
		return fmt.Errorf("set annotation cache: %w", err)
	}
	return nil
}

// Invalidate removes the cached annotation, used when notes are cleared.
func (c *AnnotationCache) Invalidate(ctx context.Context, conversationID string) error {
	return c.kv.Delete(ctx, annotationKey(conversationID))
}

// PrefetchMany warms the cache for any conversations not already present.
// Individual fetch failures are logged and skipped; conversations with no
// notes upstream are simply left uncached.
func (c *AnnotationCache) PrefetchMany(ctx context.Context, conversationIDs []string) {
	fetched := 0
	for _, id := range conversationIDs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := c.Get(ctx, id); err == nil {
			continue
		}
		note, err := c.fetcher.GetAnnotation(ctx, id)
		if err != nil {
			if api.IsCancellation(err) {
				return
			}
			if !api.IsNotFound(err) {
				c.logger.Warn("Annotation prefetch failed",
					zap.String("conversation_id", models.ConversationKey(id)),
					zap.Error(err),
				)
			}
			continue
		}
		if err := c.Set(ctx, *note); err != nil {
			c.logger.Warn("Annotation cache write failed", zap.Error(err))
			continue
		}
		fetched++
	}
	c.logger.Debug("Annotation prefetch completed",
		zap.Int("requested", len(conversationIDs)),
		zap.Int("fetched", fetched),
	)
}
