package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/dochobbs/claraproviderios-sub001/internal/models"
)

const (
	reviewsPath   = "/rest/v1/provider_review_requests"
	notesPath     = "/rest/v1/provider_notes"
	followupsPath = "/rest/v1/scheduled_followups"
)

// StatusFilter narrows ListReviews to a single workflow status.
type StatusFilter struct {
	Status models.Status
}

// Options tunes the HTTP behaviour of the client.
type Options struct {
	Timeout       time.Duration // default 15s
	RetryCount    int           // default 3
	RetryWaitTime time.Duration // default 500ms
}

// Client talks to the Supabase PostgREST endpoint that backs the provider
// app. Transient failures (transport errors, 5xx, 429) are retried with
// exponential backoff; callers treat every returned error as final.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New creates a backend client for the given Supabase project URL and key.
func New(baseURL, apiKey string, opts Options, logger *zap.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryCount == 0 {
		opts.RetryCount = 3
	}
	if opts.RetryWaitTime == 0 {
		opts.RetryWaitTime = 500 * time.Millisecond
	}

	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWaitTime).
		SetRetryMaxWaitTime(10 * opts.RetryWaitTime).
		SetHeader("apikey", apiKey).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				// Transport failure; retrying a cancelled request is pointless.
				return !IsCancellation(err)
			}
			return r.StatusCode() >= 500 || r.StatusCode() == 429
		})

	return &Client{http: http, logger: logger}
}

// ListReviews fetches review requests. With a nil filter it returns the
// unfiltered working set (status null or not closed), newest first.
func (c *Client) ListReviews(ctx context.Context, filter *StatusFilter) ([]models.ReviewRequest, error) {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("order", "created_at.desc")

	if filter != nil {
		req.SetQueryParam("status", "eq."+string(filter.Status))
	} else {
		req.SetQueryParam("or", "(status.is.null,status.neq.closed)")
	}

	var reviews []models.ReviewRequest
	resp, err := req.SetResult(&reviews).Get(reviewsPath)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	if resp.IsError() {
		return nil, c.statusError(resp)
	}

	c.logger.Debug("Fetched review requests",
		zap.Int("count", len(reviews)),
		zap.Bool("filtered", filter != nil),
	)
	return reviews, nil
}

// GetReview fetches the full record for one conversation. Returns
// ErrNotFound when the backend has no matching row.
func (c *Client) GetReview(ctx context.Context, conversationID string) (*models.ReviewRequest, error) {
	var reviews []models.ReviewRequest
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("conversation_id", "eq."+models.ConversationKey(conversationID)).
		SetQueryParam("limit", "1").
		SetResult(&reviews).
		Get(reviewsPath)
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	if resp.IsError() {
		return nil, c.statusError(resp)
	}
	if len(reviews) == 0 {
		return nil, ErrNotFound
	}
	return &reviews[0], nil
}

// SetStatus updates the workflow status of a conversation. Moving to
// responded stamps responded_at server-side as well; the caller reloads the
// canonical row afterwards.
func (c *Client) SetStatus(ctx context.Context, conversationID string, status models.Status) error {
	patch := map[string]any{"status": string(status)}
	if status == models.StatusResponded {
		patch["responded_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	return c.patchReview(ctx, conversationID, patch)
}

// SetFlag sets or clears the attention flag. Flagging stamps flagged_at and
// flagged_by; unflagging clears only the reason and stamps unflagged_at so
// the audit trail survives.
func (c *Client) SetFlag(ctx context.Context, conversationID string, flagged bool, reason, actor string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	patch := map[string]any{"is_flagged": flagged}
	if flagged {
		patch["flag_reason"] = reason
		patch["flagged_at"] = now
		if actor != "" {
			patch["flagged_by"] = actor
		}
	} else {
		patch["flag_reason"] = nil
		patch["unflagged_at"] = now
	}
	return c.patchReview(ctx, conversationID, patch)
}

// SubmitResponse stores the provider's reply and moves the conversation to
// the given status (responded when nil).
func (c *Client) SubmitResponse(ctx context.Context, conversationID, text, name string, urgency *models.Urgency, status *models.Status) error {
	next := models.StatusResponded
	if status != nil {
		next = *status
	}
	patch := map[string]any{
		"provider_response": text,
		"status":            string(next),
		"responded_at":      time.Now().UTC().Format(time.RFC3339),
	}
	if name != "" {
		patch["provider_name"] = name
	}
	if urgency != nil {
		patch["urgency"] = string(*urgency)
	}
	return c.patchReview(ctx, conversationID, patch)
}

type followupRow struct {
	ID string `json:"id"`
}

// ScheduleFollowup creates a scheduled follow-up for the conversation and
// returns its id.
func (c *Client) ScheduleFollowup(ctx context.Context, conversationID string, when time.Time, message string, urgency models.Urgency) (string, error) {
	var created []followupRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(map[string]any{
			"conversation_id": models.ConversationKey(conversationID),
			"scheduled_for":   when.UTC().Format(time.RFC3339),
			"message":         message,
			"urgency":         string(urgency),
		}).
		SetResult(&created).
		Post(followupsPath)
	if err != nil {
		return "", fmt.Errorf("schedule followup: %w", err)
	}
	if resp.IsError() {
		return "", c.statusError(resp)
	}
	if len(created) == 0 {
		return "", fmt.Errorf("schedule followup: backend returned no row")
	}

	// Keep the denormalized marker on the review row in step.
	if err := c.patchReview(ctx, conversationID, map[string]any{"schedule_followup": true}); err != nil {
		return "", err
	}
	return created[0].ID, nil
}

// CancelFollowup removes any scheduled follow-up for the conversation.
func (c *Client) CancelFollowup(ctx context.Context, conversationID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("conversation_id", "eq."+models.ConversationKey(conversationID)).
		Delete(followupsPath)
	if err != nil {
		return fmt.Errorf("cancel followup: %w", err)
	}
	if resp.IsError() {
		return c.statusError(resp)
	}
	return c.patchReview(ctx, conversationID, map[string]any{"schedule_followup": false})
}

// GetAnnotation fetches provider notes for a conversation. Returns
// ErrNotFound when none exist.
func (c *Client) GetAnnotation(ctx context.Context, conversationID string) (*models.Annotation, error) {
	var notes []models.Annotation
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("select", "*").
		SetQueryParam("conversation_id", "eq."+models.ConversationKey(conversationID)).
		SetQueryParam("limit", "1").
		SetResult(&notes).
		Get(notesPath)
	if err != nil {
		return nil, fmt.Errorf("get annotation: %w", err)
	}
	if resp.IsError() {
		return nil, c.statusError(resp)
	}
	if len(notes) == 0 {
		return nil, ErrNotFound
	}
	return &notes[0], nil
}

// UpsertAnnotation creates or replaces the notes row for a conversation.
func (c *Client) UpsertAnnotation(ctx context.Context, a models.Annotation) error {
	a.ConversationID = models.ConversationKey(a.ConversationID)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates").
		SetBody(a).
		Post(notesPath)
	if err != nil {
		return fmt.Errorf("upsert annotation: %w", err)
	}
	if resp.IsError() {
		return c.statusError(resp)
	}
	return nil
}

// DeleteAnnotation removes the notes row for a conversation.
func (c *Client) DeleteAnnotation(ctx context.Context, conversationID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("conversation_id", "eq."+models.ConversationKey(conversationID)).
		Delete(notesPath)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	if resp.IsError() {
		return c.statusError(resp)
	}
	return nil
}

func (c *Client) patchReview(ctx context.Context, conversationID string, patch map[string]any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("conversation_id", "eq."+models.ConversationKey(conversationID)).
		SetBody(patch).
		Patch(reviewsPath)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	if resp.IsError() {
		return c.statusError(resp)
	}
	return nil
}

// statusError decodes the PostgREST error body when present.
func (c *Client) statusError(resp *resty.Response) error {
	msg := ""
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		msg = body.Message
	}
	c.logger.Error("Backend call failed",
		zap.Int("status_code", resp.StatusCode()),
		zap.String("message", msg),
	)
	return &StatusError{Code: resp.StatusCode(), Message: msg}
}
