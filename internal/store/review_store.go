package store

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dochobbs/claraproviderios-sub001/internal/api"
	"github.com/dochobbs/claraproviderios-sub001/internal/models"
)

// Backend is the slice of the backend client the store depends on. The
// client retries transient failures itself; the store treats every returned
// error as final.
type Backend interface {
	ListReviews(ctx context.Context, filter *api.StatusFilter) ([]models.ReviewRequest, error)
	GetReview(ctx context.Context, conversationID string) (*models.ReviewRequest, error)
	SetStatus(ctx context.Context, conversationID string, status models.Status) error
	SetFlag(ctx context.Context, conversationID string, flagged bool, reason, actor string) error
	SubmitResponse(ctx context.Context, conversationID, text, name string, urgency *models.Urgency, status *models.Status) error
	ScheduleFollowup(ctx context.Context, conversationID string, when time.Time, message string, urgency models.Urgency) (string, error)
	CancelFollowup(ctx context.Context, conversationID string) error
	GetAnnotation(ctx context.Context, conversationID string) (*models.Annotation, error)
	UpsertAnnotation(ctx context.Context, a models.Annotation) error
	DeleteAnnotation(ctx context.Context, conversationID string) error
}

// Options tunes store behaviour.
type Options struct {
	// Debounce is the minimum gap between two non-forced LoadAll fetches,
	// measured from the last successful one. Default 30s.
	Debounce time.Duration
}

// ReviewStore owns the authoritative in-memory view of review requests and
// keeps it consistent with the backend under periodic polling, user
// refreshes and optimistic mutations. It is the only component the UI talks
// to; the list, both caches and the last-refresh timestamp are owned here
// exclusively.
type ReviewStore struct {
	backend  Backend
	details  *DetailCache
	notes    *AnnotationCache
	debounce time.Duration
	logger   *zap.Logger

	mu           sync.Mutex
	reviews      []models.ReviewRequest
	loading      bool
	errMsg       string
	lastFetch    time.Time // last successful unfiltered fetch
	loadSeq      uint64    // issue counter for list fetches
	publishedSeq uint64    // highest sequence that reached the published list
	// optimistic records when a conversation last received a local
	// backend-acknowledged mutation; a list response issued before that
	// moment must not clobber it.
	optimistic map[string]time.Time
	subs       []chan struct{}
}

// NewReviewStore wires the orchestrator over a backend client and the two
// keyed caches.
func NewReviewStore(backend Backend, details *DetailCache, notes *AnnotationCache, opts Options, logger *zap.Logger) *ReviewStore {
	if opts.Debounce == 0 {
		opts.Debounce = 30 * time.Second
	}
	return &ReviewStore{
		backend:    backend,
		details:    details,
		notes:      notes,
		debounce:   opts.Debounce,
		logger:     logger,
		optimistic: make(map[string]time.Time),
	}
}

// Reviews returns a snapshot copy of the published list.
func (s *ReviewStore) Reviews() []models.ReviewRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ReviewRequest, len(s.reviews))
	copy(out, s.reviews)
	return out
}

// Loading reports whether a list fetch is in flight. Loading changes do not
// fire Subscribe notifications.
func (s *ReviewStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the currently published error message, empty when none.
func (s *ReviewStore) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Subscribe returns a channel that receives a signal whenever the published
// list or error state materially changes. The channel is buffered; slow
// consumers coalesce signals instead of blocking the store.
func (s *ReviewStore) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *ReviewStore) notifyLocked() {
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// LoadAll refreshes the full unfiltered list. Unless force is set, the call
// is skipped while the previous successful fetch is younger than the
// debounce window; force is for pull-to-refresh and became-active
// transitions where staleness is unacceptable. The result replaces the
// published list only when it differs by value. Cancellation is absorbed;
// any other failure is published while the stale list stays visible.
func (s *ReviewStore) LoadAll(ctx context.Context, force bool) {
	s.mu.Lock()
	if !force && !s.lastFetch.IsZero() && time.Since(s.lastFetch) < s.debounce {
		s.mu.Unlock()
		s.logger.Debug("Refresh debounced", zap.Duration("window", s.debounce))
		return
	}
	s.loadSeq++
	seq := s.loadSeq
	s.loading = true
	s.mu.Unlock()

	issuedAt := time.Now()
	list, err := s.backend.ListReviews(ctx, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		if api.IsCancellation(err) {
			// Never user-visible and never overwrites an existing error.
			s.logger.Debug("List refresh cancelled", zap.Error(err))
			return
		}
		s.errMsg = err.Error()
		s.logger.Error("List refresh failed", zap.Error(err))
		s.notifyLocked()
		return
	}

	if seq < s.publishedSeq {
		// A later-issued fetch already published; this response is stale.
		s.logger.Debug("Discarding stale list response",
			zap.Uint64("seq", seq),
			zap.Uint64("published_seq", s.publishedSeq),
		)
		return
	}
	s.publishedSeq = seq
	s.lastFetch = time.Now()
	s.publishLocked(list, issuedAt)
}

// LoadFiltered refreshes the published list with a single-status backend
// query. Explicit navigations are infrequent, so there is no debounce.
func (s *ReviewStore) LoadFiltered(ctx context.Context, status models.Status) error {
	if !status.Valid() {
		return models.ErrInvalidStatus
	}

	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	s.loading = true
	s.mu.Unlock()

	issuedAt := time.Now()
	list, err := s.backend.ListReviews(ctx, &api.StatusFilter{Status: status})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		if api.IsCancellation(err) {
			s.logger.Debug("Filtered refresh cancelled", zap.Error(err))
			return err
		}
		s.errMsg = err.Error()
		s.logger.Error("Filtered refresh failed", zap.Error(err))
		s.notifyLocked()
		return err
	}

	if seq < s.publishedSeq {
		s.logger.Debug("Discarding stale filtered response", zap.Uint64("seq", seq))
		return nil
	}
	s.publishedSeq = seq
	s.publishLocked(list, issuedAt)
	return nil
}

// publishLocked installs a fetched list, keeping any local copy that was
// mutated after the fetch was issued (a response issued before a
// backend-acknowledged mutation must not undo it). Publishes only when the
// result differs by value from the current list.
func (s *ReviewStore) publishLocked(list []models.ReviewRequest, issuedAt time.Time) {
	for i := range list {
		key := models.ConversationKey(list[i].ConversationID)
		mutatedAt, ok := s.optimistic[key]
		if !ok {
			continue
		}
		if mutatedAt.After(issuedAt) {
			if cur := s.findLocked(list[i].ConversationID); cur != nil {
				list[i] = *cur
			}
		} else {
			// The fetch was issued after the mutation was acknowledged,
			// so the server copy already includes it.
			delete(s.optimistic, key)
		}
	}

	hadErr := s.errMsg != ""
	s.errMsg = ""
	if models.EqualLists(s.reviews, list) {
		if hadErr {
			s.notifyLocked()
		}
		s.logger.Debug("List unchanged, publish suppressed", zap.Int("count", len(list)))
		return
	}
	s.reviews = list
	s.logger.Debug("Published review list", zap.Int("count", len(list)))
	s.notifyLocked()
}

func (s *ReviewStore) findLocked(conversationID string) *models.ReviewRequest {
	for i := range s.reviews {
		if models.SameConversation(s.reviews[i].ConversationID, conversationID) {
			return &s.reviews[i]
		}
	}
	return nil
}

// FetchDetail returns the full record for a conversation, serving the
// detail cache unless forceFresh drops it first. A fresh fetch is written
// to both the cache and the matching list slot. Not-found surfaces only
// when the conversation is absent from cache, list and backend alike.
func (s *ReviewStore) FetchDetail(ctx context.Context, conversationID string, forceFresh bool) (*models.ReviewRequest, error) {
	if forceFresh {
		if err := s.details.Invalidate(ctx, conversationID); err != nil {
			s.logger.Warn("Detail cache invalidation failed", zap.Error(err))
		}
	} else if cached, err := s.details.Get(ctx, conversationID); err == nil {
		return cached, nil
	}

	fetched, err := s.backend.GetReview(ctx, conversationID)
	if err != nil {
		if api.IsCancellation(err) {
			s.logger.Debug("Detail fetch cancelled", zap.Error(err))
			return nil, err
		}
		// Prefer stale-but-present data over an error.
		s.mu.Lock()
		fallback := s.findLocked(conversationID)
		if fallback != nil {
			cp := *fallback
			s.mu.Unlock()
			s.logger.Warn("Detail fetch failed, serving list copy",
				zap.String("conversation_id", models.ConversationKey(conversationID)),
				zap.Error(err),
			)
			return &cp, nil
		}
		s.mu.Unlock()
		if api.IsNotFound(err) {
			return nil, err
		}
		s.setErr(err)
		return nil, err
	}

	if err := s.details.Set(ctx, *fetched); err != nil {
		s.logger.Warn("Detail cache write failed", zap.Error(err))
	}

	s.mu.Lock()
	if cur := s.findLocked(conversationID); cur != nil && !reflect.DeepEqual(*cur, *fetched) {
		*cur = *fetched
		s.notifyLocked()
	}
	s.mu.Unlock()
	return fetched, nil
}

// UpdateStatus moves a conversation to a new workflow status. The local
// state changes only after the backend acknowledges the write; the detail
// cache entry is then dropped and a forced reload picks up server-computed
// fields from the canonical source.
func (s *ReviewStore) UpdateStatus(ctx context.Context, conversationID string, next models.Status) error {
	if !next.Valid() {
		return models.ErrInvalidStatus
	}
	if cur := s.lookup(ctx, conversationID); cur != nil {
		from := cur.NormalizedStatus()
		if from != next && !models.CanTransition(from, next) {
			return models.ErrInvalidTransition
		}
	}

	if err := s.backend.SetStatus(ctx, conversationID, next); err != nil {
		return s.mutationFailed("update status", err)
	}

	now := time.Now().UTC()
	s.applyMutation(ctx, conversationID, func(r *models.ReviewRequest) {
		r.ApplyStatus(next, now)
	})
	if err := s.details.Invalidate(ctx, conversationID); err != nil {
		s.logger.Warn("Detail cache invalidation failed", zap.Error(err))
	}
	s.LoadAll(ctx, true)
	return nil
}

// SubmitResponse stores a provider reply and moves the conversation to
// responded. Validation happens before any network call.
func (s *ReviewStore) SubmitResponse(ctx context.Context, conversationID, text, providerName string, urgency *models.Urgency) error {
	if err := models.ValidateResponseText(text); err != nil {
		return err
	}
	if err := models.ValidateProviderName(providerName); err != nil {
		return err
	}
	if urgency != nil && !urgency.Valid() {
		return models.ErrInvalidUrgency
	}

	if err := s.backend.SubmitResponse(ctx, conversationID, text, providerName, urgency, nil); err != nil {
		return s.mutationFailed("submit response", err)
	}

	now := time.Now().UTC()
	s.applyMutation(ctx, conversationID, func(r *models.ReviewRequest) {
		t := text
		r.ProviderResponse = &t
		if providerName != "" {
			n := providerName
			r.ProviderName = &n
		}
		r.ApplyStatus(models.StatusResponded, now)
	})
	if err := s.details.Invalidate(ctx, conversationID); err != nil {
		s.logger.Warn("Detail cache invalidation failed", zap.Error(err))
	}
	s.LoadAll(ctx, true)
	return nil
}

// Flag marks a conversation for attention. Applied to both the list entry
// and the detail cache copy after backend acknowledgment; no reload, the
// flag axis never touches status.
func (s *ReviewStore) Flag(ctx context.Context, conversationID, reason, actor string) error {
	if err := models.ValidateFlagReason(reason); err != nil {
		return err
	}
	if err := models.ValidateProviderName(actor); err != nil {
		return err
	}

	if err := s.backend.SetFlag(ctx, conversationID, true, reason, actor); err != nil {
		return s.mutationFailed("flag", err)
	}

	now := time.Now().UTC()
	s.applyMutation(ctx, conversationID, func(r *models.ReviewRequest) {
		r.ApplyFlag(reason, actor, now)
	})
	return nil
}

// Unflag clears the attention marker, keeping flagged_at/flagged_by for the
// audit trail.
func (s *ReviewStore) Unflag(ctx context.Context, conversationID string) error {
	if err := s.backend.SetFlag(ctx, conversationID, false, "", ""); err != nil {
		return s.mutationFailed("unflag", err)
	}

	now := time.Now().UTC()
	s.applyMutation(ctx, conversationID, func(r *models.ReviewRequest) {
		r.ApplyUnflag(now)
	})
	return nil
}

// ScheduleFollowup books a follow-up message for the conversation and
// returns the follow-up id.
func (s *ReviewStore) ScheduleFollowup(ctx context.Context, conversationID string, when time.Time, message string, urgency models.Urgency) (string, error) {
	if err := models.ValidateResponseText(message); err != nil {
		return "", err
	}
	if !urgency.Valid() {
		return "", models.ErrInvalidUrgency
	}
	if !when.After(time.Now()) {
		return "", models.ErrScheduleNotFuture
	}

	followupID, err := s.backend.ScheduleFollowup(ctx, conversationID, when, message, urgency)
	if err != nil {
		return "", s.mutationFailed("schedule followup", err)
	}

	s.applyMutation(ctx, conversationID, func(r *models.ReviewRequest) {
		r.ScheduleFollowup = true
	})
	return followupID, nil
}

// CancelFollowup removes a scheduled follow-up.
func (s *ReviewStore) CancelFollowup(ctx context.Context, conversationID string) error {
	if err := s.backend.CancelFollowup(ctx, conversationID); err != nil {
		return s.mutationFailed("cancel followup", err)
	}

	s.applyMutation(ctx, conversationID, func(r *models.ReviewRequest) {
		r.ScheduleFollowup = false
	})
	return nil
}

// Annotation returns the provider notes for a conversation, read through
// the annotation cache. A conversation without notes yields nil, nil.
func (s *ReviewStore) Annotation(ctx context.Context, conversationID string) (*models.Annotation, error) {
	if cached, err := s.notes.Get(ctx, conversationID); err == nil {
		return cached, nil
	}
	note, err := s.backend.GetAnnotation(ctx, conversationID)
	if err != nil {
		if api.IsNotFound(err) {
			return nil, nil
		}
		if api.IsCancellation(err) {
			s.logger.Debug("Annotation fetch cancelled", zap.Error(err))
		}
		return nil, err
	}
	if err := s.notes.Set(ctx, *note); err != nil {
		s.logger.Warn("Annotation cache write failed", zap.Error(err))
	}
	return note, nil
}

// SaveAnnotation upserts notes/tags for a conversation and refreshes the
// cached copy.
func (s *ReviewStore) SaveAnnotation(ctx context.Context, conversationID, notes string, tags []string, createdBy string) error {
	if err := models.ValidateProviderName(createdBy); err != nil {
		return err
	}
	note := models.Annotation{
		ConversationID: models.ConversationKey(conversationID),
		Notes:          notes,
		Tags:           tags,
	}
	if createdBy != "" {
		note.CreatedBy = &createdBy
	}
	if err := s.backend.UpsertAnnotation(ctx, note); err != nil {
		return s.mutationFailed("save annotation", err)
	}
	if err := s.notes.Set(ctx, note); err != nil {
		s.logger.Warn("Annotation cache write failed", zap.Error(err))
	}
	return nil
}

// ClearAnnotation deletes the notes for a conversation and drops the cache
// entry.
func (s *ReviewStore) ClearAnnotation(ctx context.Context, conversationID string) error {
	if err := s.backend.DeleteAnnotation(ctx, conversationID); err != nil {
		return s.mutationFailed("clear annotation", err)
	}
	if err := s.notes.Invalidate(ctx, conversationID); err != nil {
		s.logger.Warn("Annotation cache invalidation failed", zap.Error(err))
	}
	return nil
}

// PrefetchAnnotations warms the annotation cache for the given
// conversations, tolerating individual failures.
func (s *ReviewStore) PrefetchAnnotations(ctx context.Context, conversationIDs []string) {
	s.notes.PrefetchMany(ctx, conversationIDs)
}

// ForceRefresh is the hook for external refresh triggers (pull-to-refresh,
// became-active, change events): a LoadAll that bypasses the debounce.
func (s *ReviewStore) ForceRefresh(ctx context.Context) {
	s.LoadAll(ctx, true)
}

// lookup finds the current copy of a conversation in the list or the
// detail cache, nil when unknown locally.
func (s *ReviewStore) lookup(ctx context.Context, conversationID string) *models.ReviewRequest {
	s.mu.Lock()
	if cur := s.findLocked(conversationID); cur != nil {
		cp := *cur
		s.mu.Unlock()
		return &cp
	}
	s.mu.Unlock()

	if cached, err := s.details.Get(ctx, conversationID); err == nil {
		return cached
	}
	return nil
}

// applyMutation applies a backend-acknowledged change to both the
// authoritative list entry and the detail cache copy, keeping the two in
// sync, and stamps the conversation so an older in-flight list fetch cannot
// undo it.
func (s *ReviewStore) applyMutation(ctx context.Context, conversationID string, mutate func(*models.ReviewRequest)) {
	now := time.Now()

	s.mu.Lock()
	if cur := s.findLocked(conversationID); cur != nil {
		mutate(cur)
		s.notifyLocked()
	}
	s.optimistic[models.ConversationKey(conversationID)] = now
	s.mu.Unlock()

	cached, err := s.details.Get(ctx, conversationID)
	if err != nil {
		return
	}
	mutate(cached)
	if err := s.details.Set(ctx, *cached); err != nil {
		s.logger.Warn("Detail cache write failed", zap.Error(err))
	}
}

// mutationFailed classifies a mutation error: cancellation is absorbed into
// a debug log, everything else becomes the published error. Either way the
// caller gets the error back; local state is untouched.
func (s *ReviewStore) mutationFailed(op string, err error) error {
	if api.IsCancellation(err) {
		s.logger.Debug("Mutation cancelled", zap.String("op", op), zap.Error(err))
		return err
	}
	s.logger.Error("Mutation failed", zap.String("op", op), zap.Error(err))
	s.setErr(err)
	return err
}

func (s *ReviewStore) setErr(err error) {
	s.mu.Lock()
	s.errMsg = err.Error()
	s.notifyLocked()
	s.mu.Unlock()
}
