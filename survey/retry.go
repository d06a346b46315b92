package survey

import (
	"sort"
	"sync"
	"time"
)

// Backoff configures exponential retry delays
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int // 0 retries forever
}

// DefaultBackoff mirrors the broker reconnect policy: 1s doubling to 60s
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 60 * time.Second, MaxAttempts: 10}
}

// delay returns the wait after the given number of failed attempts
func (b Backoff) delay(attempts int) time.Duration {
	d := b.Initial
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	return min(d, b.Max)
}

// RetryState is the bookkeeping for one item that failed to deliver
type RetryState struct {
	Attempts     int       `json:"attempts"`
	NextEligible time.Time `json:"nextEligible"`
	LastError    string    `json:"lastError"`
}

// RetryTracker keeps explicit per-item retry state keyed by an item id
type RetryTracker struct {
	mu      sync.Mutex
	backoff Backoff
	states  map[string]*RetryState
	now     func() time.Time
}

// NewRetryTracker creates a tracker using b
func NewRetryTracker(b Backoff) *RetryTracker {
	return &RetryTracker{
		backoff: b,
		states:  make(map[string]*RetryState),
		now:     time.Now,
	}
}

// Fail records a failed attempt for key. It returns false once the item
// has used up its attempts, at which point its state is dropped.
func (r *RetryTracker) Fail(key string, err error) (RetryState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[key]
	if !ok {
		st = &RetryState{}
		r.states[key] = st
	}
	st.Attempts++
	if err != nil {
		st.LastError = err.Error()
	}
	st.NextEligible = r.now().Add(r.backoff.delay(st.Attempts))

	if r.backoff.MaxAttempts > 0 && st.Attempts >= r.backoff.MaxAttempts {
		delete(r.states, key)
		return *st, false
	}
	return *st, true
}

// Succeed clears any retry state for key
func (r *RetryTracker) Succeed(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, key)
}

// Due returns the keys whose next eligible time has passed, sorted
func (r *RetryTracker) Due() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var keys []string
	for k, st := range r.states {
		if !now.Before(st.NextEligible) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// State returns a copy of the state for key
func (r *RetryTracker) State(key string) (RetryState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[key]
	if !ok {
		return RetryState{}, false
	}
	return *st, true
}

// Len returns the number of items awaiting retry
func (r *RetryTracker) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
