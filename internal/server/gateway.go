package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/authz"
	"chat-relay/internal/guild"
	"chat-relay/internal/presence"
	"chat-relay/internal/protocol"
	"chat-relay/internal/router"
	"chat-relay/internal/session"
	"chat-relay/internal/stats"
	"chat-relay/internal/types"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
)

const connectTimeout = 10 * time.Second

// Gateway is the public-facing protocol handler: it authenticates
// connections, owns the live client set and dispatches subscribe and
// send operations through the authorization chain and the topic router.
type Gateway struct {
	log      *log.Logger
	verifier *auth.Verifier
	chain    *authz.Chain
	limiter  *authz.RateLimitCheck
	registry *session.Registry
	router   *router.Router
	presence *presence.Tracker
	guilds   *guild.Cache
	stats    stats.StatsProvider

	upgrader   websocket.Upgrader
	bufferSize int
	policy     session.OverflowPolicy

	mu      sync.Mutex
	clients map[string]*Client
	// userChannels refcounts (user, channel) subscriptions across all of
	// the user's sessions; presence fan-out targets come from here.
	userChannels map[string]map[string]int
}

type GatewayConfig struct {
	Logger     *log.Logger
	Verifier   *auth.Verifier
	Chain      *authz.Chain
	Limiter    *authz.RateLimitCheck
	Registry   *session.Registry
	Router     *router.Router
	Guilds     *guild.Cache
	Stats      stats.StatsProvider
	BufferSize int
	Policy     session.OverflowPolicy
	Debounce   time.Duration
}

func NewGateway(cfg GatewayConfig) *Gateway {
	g := &Gateway{
		log:      cfg.Logger,
		verifier: cfg.Verifier,
		chain:    cfg.Chain,
		limiter:  cfg.Limiter,
		registry: cfg.Registry,
		router:   cfg.Router,
		guilds:   cfg.Guilds,
		stats:    cfg.Stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		bufferSize:   cfg.BufferSize,
		policy:       cfg.Policy,
		clients:      make(map[string]*Client),
		userChannels: make(map[string]map[string]int),
	}

	g.presence = presence.NewTracker(cfg.Debounce, g.broadcastPresence, cfg.Logger)

	return g
}

// Routes registers the gateway's endpoints on the mux.
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /relay", g.ServeWS)
	mux.HandleFunc("GET /healthz", g.healthz)
	mux.HandleFunc("POST /internal/membership/evict", g.evictMembership)
}

// ServeWS is the handshake: upgrade, verify the bearer token, create the
// session. A failed verification sends the failure frame and closes the
// connection; no session is created.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Println("ws upgrade:", err)
		return
	}

	claims, rej := g.authenticate(r)
	if rej != nil {
		g.stats.Count(stats.AuthFailures)
		g.closeWithError(conn, rej)
		return
	}

	id, err := shortid.Generate()
	if err != nil {
		g.log.Println("generate session id:", err)
		g.closeWithError(conn, protocol.ErrUnknown)
		return
	}

	sess := session.New(id, claims.UserId, g.bufferSize, g.policy)
	g.registry.Add(sess)
	g.stats.Incr(stats.ActiveSessions)

	client := NewClient(conn, sess, g, g.log)
	g.mu.Lock()
	g.clients[sess.Id] = client
	g.mu.Unlock()

	g.presence.Up(sess.UserId)

	sess.Queue(protocol.AckFrame(0, &protocol.Ack{SessionId: sess.Id}))

	go client.Write()
	go client.Read()
}

// authenticate verifies the bearer token under the connect timeout so a
// hung verifier produces an auth failure rather than a stuck handshake.
func (g *Gateway) authenticate(r *http.Request) (*auth.Claims, *protocol.Error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var rej *protocol.Error
		token, rej = auth.BearerToken(r.Header.Get("Authorization"))
		if rej != nil {
			return nil, rej
		}
	}

	done := make(chan struct{})
	var (
		claims *auth.Claims
		rej    *protocol.Error
	)
	go func() {
		claims, rej = g.verifier.Verify(token)
		close(done)
	}()

	select {
	case <-done:
		return claims, rej
	case <-time.After(connectTimeout):
		return nil, protocol.ErrInvalidToken
	}
}

func (g *Gateway) closeWithError(conn *websocket.Conn, rej *protocol.Error) {
	frame := protocol.ErrorFrame(0, rej)
	if data, err := json.Marshal(frame); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, data)
	}
	conn.Close()
}

// Subscribe runs the authorization chain for (session, channel) and
// records the subscription. Rejections answer the single frame without
// closing the connection.
func (g *Gateway) Subscribe(ctx context.Context, sess *session.Session, frameId int, destination string) *protocol.ServerFrame {
	kind, channelId, err := protocol.ParseDestination(destination)
	if err != nil {
		return protocol.ErrorFrame(frameId, protocol.ErrMalformedFrame)
	}

	ch, rej := g.resolveChannel(ctx, channelId, kind)
	if rej != nil {
		return protocol.ErrorFrame(frameId, rej)
	}

	req := &authz.Request{UserId: sess.UserId, ChannelId: ch.Id}
	if rej := g.chain.Evaluate(ctx, req); rej != nil {
		return protocol.ErrorFrame(frameId, rej)
	}

	added, ok := g.registry.Subscribe(sess.Id, ch.Id)
	if !ok {
		return protocol.ErrorFrame(frameId, protocol.ErrUnknown)
	}

	// A duplicate subscribe acks without repeating the side effects.
	if added {
		g.stats.Incr(stats.ActiveSubscriptions)
		g.trackChannel(sess.UserId, ch.Id, 1)

		// Let co-subscribers see the user appear on this channel.
		g.broadcastToChannel(ch.Id, protocol.PresenceFrame(sess.UserId, types.PresenceOnline, time.Now().UTC()), sess.Id)
	}

	return protocol.AckFrame(frameId, &protocol.Ack{ChannelId: ch.Id})
}

func (g *Gateway) Unsubscribe(sess *session.Session, frameId int, destination string) *protocol.ServerFrame {
	_, channelId, err := protocol.ParseDestination(destination)
	if err != nil {
		return protocol.ErrorFrame(frameId, protocol.ErrMalformedFrame)
	}

	if !g.registry.Subscribed(sess.Id, channelId) {
		return protocol.ErrorFrame(frameId, protocol.ErrNotSubscribed)
	}

	g.registry.Unsubscribe(sess.Id, channelId)
	g.stats.Decr(stats.ActiveSubscriptions)
	g.trackChannel(sess.UserId, channelId, -1)

	return protocol.AckFrame(frameId, &protocol.Ack{ChannelId: channelId})
}

// Publish requires an active subscription for the target channel and
// delegates ordering and durability to the topic router.
func (g *Gateway) Publish(ctx context.Context, sess *session.Session, frameId int, send *protocol.Send) *protocol.ServerFrame {
	kind, channelId, err := protocol.ParseDestination(send.Destination)
	if err != nil {
		return protocol.ErrorFrame(frameId, protocol.ErrMalformedFrame)
	}

	if !g.registry.Subscribed(sess.Id, channelId) {
		return protocol.ErrorFrame(frameId, protocol.ErrNotSubscribed)
	}

	if !g.limiter.Allow(sess.UserId) {
		return protocol.ErrorFrame(frameId, protocol.ErrRateLimited)
	}

	ch, rej := g.resolveChannel(ctx, channelId, kind)
	if rej != nil {
		return protocol.ErrorFrame(frameId, rej)
	}

	msg, rej := g.router.Publish(ctx, ch, sess.UserId, send.Content, send.Attachments)
	if rej != nil {
		return protocol.ErrorFrame(frameId, rej)
	}
	g.stats.Count(stats.MessagesPublished)

	return protocol.AckFrame(frameId, &protocol.Ack{
		ChannelId: msg.ChannelId,
		MessageId: msg.Id,
		Sequence:  msg.Sequence,
		SentAt:    &msg.SentAt,
	})
}

// Disconnect tears the session down: subscriptions removed, presence
// signalled, terminal state reached. Safe to call more than once.
func (g *Gateway) Disconnect(sess *session.Session) {
	g.mu.Lock()
	_, known := g.clients[sess.Id]
	delete(g.clients, sess.Id)
	g.mu.Unlock()

	if !known {
		return
	}

	// Snapshot the fan-out targets before the refcounts drop: by the time
	// the debounced OFFLINE transition confirms, the user's channel set is
	// already empty.
	presenceTargets := g.channelsForUser(sess.UserId)

	channels := g.registry.Remove(sess.Id)
	for _, channelId := range channels {
		g.stats.Decr(stats.ActiveSubscriptions)
		g.trackChannel(sess.UserId, channelId, -1)
	}

	sess.Close()
	g.stats.Decr(stats.ActiveSessions)
	g.presence.Down(sess.UserId, presenceTargets)
}

// Evict force-disconnects a session that fell behind (Disconnect
// overflow policy).
func (g *Gateway) Evict(sessionId string) {
	g.mu.Lock()
	client := g.clients[sessionId]
	g.mu.Unlock()

	if client != nil {
		client.close()
		g.Disconnect(client.session)
	}
}

func (g *Gateway) resolveChannel(ctx context.Context, channelId string, kind types.ChannelKind) (types.Channel, *protocol.Error) {
	ch, err := g.guilds.GetChannel(ctx, channelId)
	if err != nil {
		if err == guild.ErrChannelNotFound {
			return types.Channel{}, protocol.ErrUnknownChannel
		}
		g.log.Printf("resolve channel %q: %v", channelId, err)
		return types.Channel{}, protocol.ErrUnknown
	}

	if kind != "" && ch.Kind != kind {
		return types.Channel{}, protocol.ErrUnknownChannel
	}

	return ch, nil
}

func (g *Gateway) trackChannel(userId, channelId string, delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	channels := g.userChannels[userId]
	if channels == nil {
		if delta <= 0 {
			return
		}
		channels = make(map[string]int)
		g.userChannels[userId] = channels
	}

	channels[channelId] += delta
	if channels[channelId] <= 0 {
		delete(channels, channelId)
	}
	if len(channels) == 0 {
		delete(g.userChannels, userId)
	}
}

func (g *Gateway) channelsForUser(userId string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	channels := make([]string, 0, len(g.userChannels[userId]))
	for id := range g.userChannels[userId] {
		channels = append(channels, id)
	}
	return channels
}

// broadcastPresence delivers one confirmed presence transition to the
// co-subscribers of the user's channels. OFFLINE transitions carry the
// channel set captured at disconnect; ONLINE falls back to the live set.
func (g *Gateway) broadcastPresence(userId string, status types.PresenceStatus, at time.Time, channels []string) {
	g.stats.Count(stats.PresenceTransitions)

	if channels == nil {
		channels = g.channelsForUser(userId)
	}

	frame := protocol.PresenceFrame(userId, status, at)
	for _, channelId := range channels {
		g.broadcastToChannel(channelId, frame, "")
	}
}

func (g *Gateway) broadcastToChannel(channelId string, frame *protocol.ServerFrame, skipSessionId string) {
	for _, s := range g.registry.SessionsForChannel(channelId) {
		if s.Id == skipSessionId {
			continue
		}
		if !s.Queue(frame) {
			g.Evict(s.Id)
		}
	}
}

func (g *Gateway) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// evictMembership is the guild service's hook for membership removal:
// it invalidates the cache entry so the next subscribe re-checks.
// Existing subscriptions are enforced lazily, not torn down.
func (g *Gateway) evictMembership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserId    string `json:"user_id"`
		ChannelId string `json:"channel_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == "" || req.ChannelId == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	g.guilds.Invalidate(req.UserId, req.ChannelId)
	w.WriteHeader(http.StatusNoContent)
}

// Presence exposes the tracker for wiring and inspection.
func (g *Gateway) Presence() *presence.Tracker {
	return g.presence
}

// Shutdown closes every live connection and stops presence timers so no
// offline storm fires during process exit.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.presence.Stop()

	g.mu.Lock()
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		c.close()
		g.Disconnect(c.session)
	}

	return ctx.Err()
}
