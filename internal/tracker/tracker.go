// Package tracker records which users have claimed the reward on each
// active reminder message.
package tracker

import "sync"

// Tracker holds the claimant sets for recently posted reminders. Only the
// most recent maxTracked reminders accept claims; registering a new one
// evicts the oldest, so memory stays bounded over long uptimes.
type Tracker struct {
	mu         sync.Mutex
	claims     map[string]map[string]struct{}
	order      []string // registration order, oldest first
	maxTracked int
}

// New creates a Tracker keeping at most maxTracked reminder instances.
// Values below 1 are treated as 1.
func New(maxTracked int) *Tracker {
	if maxTracked < 1 {
		maxTracked = 1
	}
	return &Tracker{
		claims:     make(map[string]map[string]struct{}),
		maxTracked: maxTracked,
	}
}

// Register creates an empty claimant set for a newly posted reminder,
// evicting the oldest tracked reminder if the cap is reached. Called once
// per successful scheduler fire. Re-registering a known ID is a no-op.
func (t *Tracker) Register(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.claims[messageID]; ok {
		return
	}

	for len(t.order) >= t.maxTracked {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.claims, oldest)
	}

	t.claims[messageID] = make(map[string]struct{})
	t.order = append(t.order, messageID)
}

// TryClaim records userID's claim on messageID. It returns true exactly
// once per (messageID, userID) pair; false means the reminder is not
// tracked or the user already claimed, both expected no-ops. The check
// and the insert happen under one lock, so concurrent claims from the
// same user resolve to a single success.
func (t *Tracker) TryClaim(messageID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	claimants, ok := t.claims[messageID]
	if !ok {
		return false
	}
	if _, claimed := claimants[userID]; claimed {
		return false
	}
	claimants[userID] = struct{}{}
	return true
}

// Release withdraws a previously recorded claim. Used to undo a claim
// whose ledger credit failed to persist, so the user can claim again.
func (t *Tracker) Release(messageID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if claimants, ok := t.claims[messageID]; ok {
		delete(claimants, userID)
	}
}

// Tracked reports whether messageID currently accepts claims.
func (t *Tracker) Tracked(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.claims[messageID]
	return ok
}

// Len returns the number of tracked reminders.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.claims)
}
