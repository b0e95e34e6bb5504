package notifications

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"fructosahel/backend/internal/models"
	"fructosahel/backend/internal/services"

	"github.com/gofrs/uuid"
)

type fakePreferences struct {
	mu    sync.Mutex
	prefs map[uuid.UUID]services.EffectivePreferences
	err   error
}

func (f *fakePreferences) set(p services.EffectivePreferences) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefs == nil {
		f.prefs = make(map[uuid.UUID]services.EffectivePreferences)
	}
	f.prefs[p.UserID] = p
}

func (f *fakePreferences) Resolve(ctx context.Context, userID uuid.UUID) (services.EffectivePreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return services.EffectivePreferences{}, f.err
	}
	if p, ok := f.prefs[userID]; ok {
		return p, nil
	}
	return services.DefaultPreferences(userID), nil
}

type fakeSubscriptions struct {
	mu      sync.Mutex
	subs    map[uuid.UUID][]models.PushSubscription
	deletes int
	listed  int
}

func (f *fakeSubscriptions) add(userID uuid.UUID, endpoints ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[uuid.UUID][]models.PushSubscription)
	}
	for _, endpoint := range endpoints {
		f.subs[userID] = append(f.subs[userID], models.PushSubscription{
			ID:       uuid.Must(uuid.NewV4()),
			UserID:   userID,
			Endpoint: endpoint,
			P256dh:   "p256dh",
			Auth:     "auth",
		})
	}
}

func (f *fakeSubscriptions) endpoints(userID uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.subs[userID] {
		out = append(out, s.Endpoint)
	}
	return out
}

func (f *fakeSubscriptions) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	return append([]models.PushSubscription(nil), f.subs[userID]...), nil
}

func (f *fakeSubscriptions) DeleteByEndpoint(ctx context.Context, endpoint string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for userID, subs := range f.subs {
		for i, s := range subs {
			if s.Endpoint == endpoint {
				f.subs[userID] = append(subs[:i:i], subs[i+1:]...)
				return true, nil
			}
		}
	}
	return false, nil
}

type fakeSender struct {
	configured bool
	status     map[string]int
	delay      time.Duration

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	mu       sync.Mutex
	payloads [][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{configured: true, status: map[string]int{}}
}

func (f *fakeSender) Configured() bool { return f.configured }

func (f *fakeSender) Send(ctx context.Context, sub models.PushSubscription, msg PushMessage) (int, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if n <= max || f.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}

	f.mu.Lock()
	f.payloads = append(f.payloads, msg.Body)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	status, ok := f.status[sub.Endpoint]
	if !ok {
		status = 201
	}
	if status == 0 {
		return 0, errors.New("connection reset")
	}
	if status >= 400 {
		return status, &ProviderError{StatusCode: status}
	}
	return status, nil
}

type fakeLocales map[uuid.UUID]string

func (f fakeLocales) Locale(ctx context.Context, userID uuid.UUID) (string, error) {
	if l, ok := f[userID]; ok {
		return l, nil
	}
	return models.DefaultLocale, nil
}
