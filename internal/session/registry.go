package session

import (
	"hash/fnv"
	"sync"
)

const numShards = 16

type sessionShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

type channelShard struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*Session
}

// Registry tracks live sessions and the channel subscription index. Both
// maps are lock-striped so the fan-out path never contends on a single
// global lock.
type Registry struct {
	sessionShards [numShards]*sessionShard
	channelShards [numShards]*channelShard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.sessionShards {
		r.sessionShards[i] = &sessionShard{sessions: make(map[string]*Session)}
		r.channelShards[i] = &channelShard{subscribers: make(map[string]map[string]*Session)}
	}
	return r
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % numShards)
}

func (r *Registry) sessionShard(sessionId string) *sessionShard {
	return r.sessionShards[shardIndex(sessionId)]
}

func (r *Registry) channelShard(channelId string) *channelShard {
	return r.channelShards[shardIndex(channelId)]
}

func (r *Registry) Add(s *Session) {
	shard := r.sessionShard(s.Id)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.sessions[s.Id] = s
}

func (r *Registry) Get(sessionId string) (*Session, bool) {
	shard := r.sessionShard(sessionId)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	s, ok := shard.sessions[sessionId]
	return s, ok
}

// Remove deletes the session and every subscription it holds, returning
// the channels it was subscribed to.
func (r *Registry) Remove(sessionId string) []string {
	shard := r.sessionShard(sessionId)
	shard.mu.Lock()
	s, ok := shard.sessions[sessionId]
	delete(shard.sessions, sessionId)
	shard.mu.Unlock()

	if !ok {
		return nil
	}

	channels := s.Channels()
	for _, channelId := range channels {
		r.dropSubscriber(channelId, sessionId)
		s.removeChannel(channelId)
	}

	return channels
}

// Subscribe records the (session, channel) pair. ok is false for an
// unknown or closed session; added is false when the pair already existed,
// so callers can keep their side effects idempotent.
func (r *Registry) Subscribe(sessionId, channelId string) (added, ok bool) {
	s, ok := r.Get(sessionId)
	if !ok || s.Closed() {
		return false, false
	}

	shard := r.channelShard(channelId)
	shard.mu.Lock()
	subs := shard.subscribers[channelId]
	if subs == nil {
		subs = make(map[string]*Session)
		shard.subscribers[channelId] = subs
	}
	if _, exists := subs[sessionId]; exists {
		shard.mu.Unlock()
		return false, true
	}
	subs[sessionId] = s
	shard.mu.Unlock()

	s.addChannel(channelId)

	// Remove may have raced between the liveness check and the insert.
	// The session's channel set is updated before this re-check, so either
	// Remove sees the channel and drops it, or we see the removal and undo;
	// no index entry outlives its session.
	if _, live := r.Get(sessionId); !live || s.Closed() {
		r.dropSubscriber(channelId, sessionId)
		s.removeChannel(channelId)
		return false, false
	}

	return true, true
}

func (r *Registry) Unsubscribe(sessionId, channelId string) {
	r.dropSubscriber(channelId, sessionId)

	if s, ok := r.Get(sessionId); ok {
		s.removeChannel(channelId)
	}
}

func (r *Registry) dropSubscriber(channelId, sessionId string) {
	shard := r.channelShard(channelId)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if subs, ok := shard.subscribers[channelId]; ok {
		delete(subs, sessionId)
		if len(subs) == 0 {
			delete(shard.subscribers, channelId)
		}
	}
}

func (r *Registry) Subscribed(sessionId, channelId string) bool {
	s, ok := r.Get(sessionId)
	return ok && s.hasChannel(channelId)
}

// SessionsForChannel returns a snapshot of the sessions currently
// subscribed to the channel. Read on every delivered record.
func (r *Registry) SessionsForChannel(channelId string) []*Session {
	shard := r.channelShard(channelId)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	subs := shard.subscribers[channelId]
	sessions := make([]*Session, 0, len(subs))
	for _, s := range subs {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *Registry) Len() int {
	n := 0
	for _, shard := range r.sessionShards {
		shard.mu.RLock()
		n += len(shard.sessions)
		shard.mu.RUnlock()
	}
	return n
}
