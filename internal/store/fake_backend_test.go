package store_test

import (
	"context"
	"sync"
	"time"

	"github.com/dochobbs/claraproviderios-sub001/internal/api"
	"github.com/dochobbs/claraproviderios-sub001/internal/models"
)

// fakeBackend is an in-memory stand-in for the Supabase client, used only
// in unit tests. It applies mutations to its own rows the way the backend
// would, so a forced reload observes acknowledged writes.
type fakeBackend struct {
	mu      sync.Mutex
	reviews []models.ReviewRequest

	// listHook, when set, replaces the default ListReviews behaviour.
	listHook func(ctx context.Context) ([]models.ReviewRequest, error)

	listErr error
	getErr  error

	annotations    map[string]models.Annotation
	annotationErrs map[string]error

	listCalls     int
	getCalls      int
	mutationCalls int
	noteCalls     int
}

func newFakeBackend(reviews ...models.ReviewRequest) *fakeBackend {
	return &fakeBackend{
		reviews:        reviews,
		annotations:    make(map[string]models.Annotation),
		annotationErrs: make(map[string]error),
	}
}

func (f *fakeBackend) ListReviews(ctx context.Context, filter *api.StatusFilter) ([]models.ReviewRequest, error) {
	f.mu.Lock()
	f.listCalls++
	hook := f.listHook
	err := f.listErr
	f.mu.Unlock()

	if hook != nil {
		return hook(ctx)
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ReviewRequest, 0, len(f.reviews))
	for _, r := range f.reviews {
		if filter != nil && r.NormalizedStatus() != filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeBackend) GetReview(ctx context.Context, conversationID string) (*models.ReviewRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	for i := range f.reviews {
		if models.SameConversation(f.reviews[i].ConversationID, conversationID) {
			cp := f.reviews[i]
			return &cp, nil
		}
	}
	return nil, api.ErrNotFound
}

func (f *fakeBackend) apply(conversationID string, mutate func(*models.ReviewRequest)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutationCalls++
	for i := range f.reviews {
		if models.SameConversation(f.reviews[i].ConversationID, conversationID) {
			mutate(&f.reviews[i])
			return nil
		}
	}
	return api.ErrNotFound
}

func (f *fakeBackend) SetStatus(ctx context.Context, conversationID string, status models.Status) error {
	return f.apply(conversationID, func(r *models.ReviewRequest) {
		r.ApplyStatus(status, time.Now().UTC())
	})
}

func (f *fakeBackend) SetFlag(ctx context.Context, conversationID string, flagged bool, reason, actor string) error {
	return f.apply(conversationID, func(r *models.ReviewRequest) {
		if flagged {
			r.ApplyFlag(reason, actor, time.Now().UTC())
		} else {
			r.ApplyUnflag(time.Now().UTC())
		}
	})
}

func (f *fakeBackend) SubmitResponse(ctx context.Context, conversationID, text, name string, urgency *models.Urgency, status *models.Status) error {
	return f.apply(conversationID, func(r *models.ReviewRequest) {
		t := text
		r.ProviderResponse = &t
		if name != "" {
			n := name
			r.ProviderName = &n
		}
		next := models.StatusResponded
		if status != nil {
			next = *status
		}
		r.ApplyStatus(next, time.Now().UTC())
	})
}

func (f *fakeBackend) ScheduleFollowup(ctx context.Context, conversationID string, when time.Time, message string, urgency models.Urgency) (string, error) {
	err := f.apply(conversationID, func(r *models.ReviewRequest) {
		r.ScheduleFollowup = true
	})
	if err != nil {
		return "", err
	}
	return "followup-1", nil
}

func (f *fakeBackend) CancelFollowup(ctx context.Context, conversationID string) error {
	return f.apply(conversationID, func(r *models.ReviewRequest) {
		r.ScheduleFollowup = false
	})
}

func (f *fakeBackend) GetAnnotation(ctx context.Context, conversationID string) (*models.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noteCalls++
	key := models.ConversationKey(conversationID)
	if err, ok := f.annotationErrs[key]; ok {
		return nil, err
	}
	note, ok := f.annotations[key]
	if !ok {
		return nil, api.ErrNotFound
	}
	cp := note
	return &cp, nil
}

func (f *fakeBackend) UpsertAnnotation(ctx context.Context, a models.Annotation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noteCalls++
	f.annotations[models.ConversationKey(a.ConversationID)] = a
	return nil
}

func (f *fakeBackend) DeleteAnnotation(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noteCalls++
	delete(f.annotations, models.ConversationKey(conversationID))
	return nil
}

func (f *fakeBackend) counts() (list, get, mutation int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.getCalls, f.mutationCalls
}
