package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dochobbs/claraproviderios-sub001/internal/models"
)

// DetailCache keeps the full record of every conversation a provider has
// opened this session, so reopening one does not refetch it. Keyed by
// lower-cased conversation id. No eviction: the working set is bounded by
// what one provider views in a session.
type DetailCache struct {
	kv     KVStore
	logger *zap.Logger
}

func NewDetailCache(kv KVStore, logger *zap.Logger) *DetailCache {
	return &DetailCache{kv: kv, logger: logger}
}

func detailKey(conversationID string) string {
	return "review:detail:" + models.ConversationKey(conversationID)
}

// Get returns the cached record or ErrCacheMiss.
func (c *DetailCache) Get(ctx context.Context, conversationID string) (*models.ReviewRequest, error) {
	raw, err := c.kv.Get(ctx, detailKey(conversationID))
	if err != nil {
		return nil, err
	}
	var review models.ReviewRequest
	if err := json.Unmarshal([]byte(raw), &review); err != nil {
		return nil, fmt.Errorf("decode cached review: %w", err)
	}
	return &review, nil
}

// Set stores or replaces the cached record for its conversation.
func (c *DetailCache) Set(ctx context.Context, review models.ReviewRequest) error {
	raw, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("encode review: %w", err)
	}
	key := detailKey(review.ConversationID)
	if err := c.kv.Set(ctx, key, string(raw), 0); err != nil {
		return fmt.Errorf("set detail cache: %w", err)
	}
	c.logger.Debug("Updated detail cache", zap.String("key", key))
	return nil
}

// Invalidate removes the cached record so the next read goes to the backend.
func (c *DetailCache) Invalidate(ctx context.Context, conversationID string) error {
	return c.kv.Delete(ctx, detailKey(conversationID))
}
