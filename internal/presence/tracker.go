package presence

import (
	"log"
	"sync"
	"time"

	"chat-relay/internal/types"
)

// NotifyFunc receives each confirmed presence transition exactly once.
// For OFFLINE transitions, channels is the fan-out target set captured
// when the user's last session went down; it is nil for ONLINE.
type NotifyFunc func(userId string, status types.PresenceStatus, at time.Time, channels []string)

type userState struct {
	sessions     int
	online       bool
	offlineTimer *time.Timer
	transitionAt time.Time
	channels     []string
}

// Tracker derives ONLINE/OFFLINE from live session counts. Going offline
// is debounced: the transition fires only if no session reappears within
// the window, which absorbs reconnect flapping.
type Tracker struct {
	mu       sync.Mutex
	users    map[string]*userState
	debounce time.Duration
	notify   NotifyFunc
	log      *log.Logger
	stopped  bool
}

func NewTracker(debounce time.Duration, notify NotifyFunc, logger *log.Logger) *Tracker {
	return &Tracker{
		users:    make(map[string]*userState),
		debounce: debounce,
		notify:   notify,
		log:      logger,
	}
}

// Up records a new session for the user. The 0→1 count transition emits
// ONLINE unless the user was still within a pending offline window, in
// which case the pending transition is simply cancelled.
func (t *Tracker) Up(userId string) {
	t.mu.Lock()

	state := t.users[userId]
	if state == nil {
		state = &userState{}
		t.users[userId] = state
	}
	state.sessions++

	if state.offlineTimer != nil {
		state.offlineTimer.Stop()
		state.offlineTimer = nil
		state.channels = nil
	}

	transition := state.sessions == 1 && !state.online
	var at time.Time
	if transition {
		state.online = true
		at = time.Now().UTC()
		state.transitionAt = at
	}
	t.mu.Unlock()

	if transition && t.notify != nil {
		t.notify(userId, types.PresenceOnline, at, nil)
	}
}

// Down records a closed session. When the count reaches zero the OFFLINE
// transition is scheduled after the debounce window. channels is held
// until the transition confirms and handed to the notify callback, since
// the caller's live channel set is gone by the time the timer fires.
func (t *Tracker) Down(userId string, channels []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.users[userId]
	if state == nil || state.sessions == 0 {
		return
	}
	state.sessions--

	if state.sessions > 0 || !state.online || t.stopped {
		return
	}

	state.channels = channels
	if state.offlineTimer != nil {
		state.offlineTimer.Stop()
	}
	state.offlineTimer = time.AfterFunc(t.debounce, func() {
		t.confirmOffline(userId)
	})
}

func (t *Tracker) confirmOffline(userId string) {
	t.mu.Lock()

	state := t.users[userId]
	if state == nil || state.sessions > 0 || !state.online {
		t.mu.Unlock()
		return
	}

	state.online = false
	state.offlineTimer = nil
	channels := state.channels
	at := time.Now().UTC()
	state.transitionAt = at
	delete(t.users, userId)
	t.mu.Unlock()

	if t.notify != nil {
		t.notify(userId, types.PresenceOffline, at, channels)
	}
}

// Status reports the user's current derived presence.
func (t *Tracker) Status(userId string) types.PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps := types.PresenceState{UserId: userId, Status: types.PresenceOffline}
	if state, ok := t.users[userId]; ok {
		ps.LastTransitionAt = state.transitionAt
		if state.online {
			ps.Status = types.PresenceOnline
		}
	}
	return ps
}

// Stop cancels all pending offline timers; no transitions fire after it.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopped = true
	for _, state := range t.users {
		if state.offlineTimer != nil {
			state.offlineTimer.Stop()
			state.offlineTimer = nil
		}
	}
}
