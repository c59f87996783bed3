// Package websocket implements the live-reload hub: it tracks connected
// browser sessions and tells them when a newer build snapshot exists.
//
// Delivery is best-effort. Each session keeps only the newest pending frame
// of each type, so a slow browser skips intermediate snapshots and reloads
// straight to the latest one. Sequence numbers seen by a session never go
// backwards.
package websocket

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/conneroisu/breach/internal/build"
	"github.com/conneroisu/breach/internal/errors"
	"github.com/conneroisu/breach/internal/logging"
)

const (
	// DefaultPingInterval is how often idle connections are pinged.
	DefaultPingInterval = 54 * time.Second
	// DefaultWriteTimeout bounds a single frame write or ping.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultMaxSessionsPerIP caps concurrent sessions from one host.
	DefaultMaxSessionsPerIP = 32

	readLimit = 512
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = stderrors.New("websocket: hub closed")

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithAllowedOrigins adds origin patterns accepted on upgrade, in addition to
// same-origin and local hosts.
func WithAllowedOrigins(patterns ...string) Option {
	return func(h *Hub) { h.originPatterns = append(h.originPatterns, patterns...) }
}

// WithPingInterval overrides DefaultPingInterval.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) { h.pingInterval = d }
}

// WithMaxSessionsPerIP overrides DefaultMaxSessionsPerIP. Zero disables the cap.
func WithMaxSessionsPerIP(n int) Option {
	return func(h *Hub) { h.maxPerIP = n }
}

// WithSequence supplies the currently published sequence, used for the hello
// frame of new connections.
func WithSequence(current func() uint64) Option {
	return func(h *Hub) { h.current = current }
}

// Hub is the live-reload hub. It implements build.Notifier.
type Hub struct {
	logger         logging.Logger
	originPatterns []string
	pingInterval   time.Duration
	writeTimeout   time.Duration
	maxPerIP       int
	current        func() uint64

	mu       sync.RWMutex
	sessions map[*Session]struct{}
	perIP    map[string]int
	nextID   uint64
	latest   uint64
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ build.Notifier = (*Hub)(nil)

// NewHub creates a hub with no sessions.
func NewHub(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		logger:         logging.Nop(),
		originPatterns: []string{"localhost:*", "127.0.0.1:*", "[::1]:*"},
		pingInterval:   DefaultPingInterval,
		writeTimeout:   DefaultWriteTimeout,
		maxPerIP:       DefaultMaxSessionsPerIP,
		sessions:       make(map[*Session]struct{}),
		perIP:          make(map[string]int),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithComponent("reload")
	return h
}

// Subscribe registers a new session.
func (h *Hub) Subscribe() (*Session, error) {
	return h.subscribe("", false)
}

// subscribe registers a session. A tracked session also holds a slot in the
// handler wait group, taken under the same lock that Close uses to mark the
// hub closed, so Close never misses a handler. The caller releases the slot
// with h.wg.Done.
func (h *Hub) subscribe(remoteAddr string, tracked bool) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	host := hostOf(remoteAddr)
	if h.maxPerIP > 0 && host != "" && h.perIP[host] >= h.maxPerIP {
		return nil, errors.NewIOError("too many reload connections from "+host, nil)
	}
	if tracked {
		h.wg.Add(1)
	}

	h.nextID++
	s := newSession(h.nextID, remoteAddr)
	h.sessions[s] = struct{}{}
	if host != "" {
		h.perIP[host]++
	}
	return s, nil
}

// Unsubscribe removes a session. It is safe to call more than once and
// concurrently with Notify.
func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		if host := hostOf(s.remoteAddr); host != "" {
			if h.perIP[host]--; h.perIP[host] <= 0 {
				delete(h.perIP, host)
			}
		}
	}
	h.mu.Unlock()
	s.close()
}

// Sequence returns the newest sequence the hub has announced or the store
// reports, whichever is higher.
func (h *Hub) Sequence() uint64 {
	h.mu.RLock()
	seq := h.latest
	h.mu.RUnlock()
	if h.current != nil {
		if cur := h.current(); cur > seq {
			seq = cur
		}
	}
	return seq
}

// Notify announces a newly published sequence to every session. Sequences
// not newer than the last announced one are ignored.
func (h *Hub) Notify(seq uint64) {
	h.mu.Lock()
	if h.closed || seq <= h.latest {
		h.mu.Unlock()
		return
	}
	h.latest = seq
	sessions := h.snapshotLocked()
	h.mu.Unlock()

	for _, s := range sessions {
		s.offer(Message{Type: MessageReload, Sequence: seq})
	}
	h.logger.Debug(context.Background(), "Reload broadcast", "sequence", seq, "sessions", len(sessions))
}

// NotifyReload implements build.Notifier.
func (h *Hub) NotifyReload(seq uint64) { h.Notify(seq) }

// NotifyDiagnostics implements build.Notifier. The frame replaces any
// diagnostics frame still pending for a session.
func (h *Hub) NotifyDiagnostics(seq uint64, status build.Status, diags []errors.Diagnostic) {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	sessions := h.snapshotLocked()
	h.mu.RUnlock()

	msg := Message{Type: MessageDiagnostics, Sequence: seq, Status: string(status), Diagnostics: diags}
	for _, s := range sessions {
		s.offer(msg)
	}
}

func (h *Hub) snapshotLocked() []*Session {
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Clients returns the number of subscribed sessions.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Sessions describes the subscribed sessions ordered by id.
func (h *Hub) Sessions() []SessionInfo {
	h.mu.RLock()
	sessions := h.snapshotLocked()
	h.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ServeHTTP upgrades the request and streams frames to the browser until it
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s, err := h.subscribe(r.RemoteAddr, true)
	if stderrors.Is(err, ErrHubClosed) {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket connection rejected", "remote_addr", r.RemoteAddr)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	defer h.wg.Done()
	defer h.Unsubscribe(s)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		// Accept has already written the response.
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "remote_addr", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(readLimit)

	h.logger.Debug(r.Context(), "WebSocket client connected", "session", s.ID(), "clients", h.Clients())
	h.serve(s, conn)
}

func (h *Hub) serve(s *Session, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	go h.readLoop(ctx, cancel, conn)

	hello := h.Sequence()
	if err := h.write(ctx, conn, Message{Type: MessageHello, Sequence: hello}); err != nil {
		h.closeConn(conn, err)
		return
	}
	s.acknowledge(hello)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.wake:
			for {
				msg, ok := s.take()
				if !ok {
					break
				}
				if err := h.write(ctx, conn, msg); err != nil {
					h.closeConn(conn, err)
					return
				}
			}

		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, h.writeTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				h.closeConn(conn, err)
				return
			}

		case <-s.done:
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return

		case <-ctx.Done():
			if h.ctx.Err() != nil {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			} else {
				_ = conn.CloseNow()
			}
			return
		}
	}
}

// readLoop discards client frames and cancels ctx when the peer goes away.
func (h *Hub) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, msg)
}

func (h *Hub) closeConn(conn *websocket.Conn, err error) {
	if h.ctx.Err() == nil && websocket.CloseStatus(err) == -1 && !stderrors.Is(err, context.Canceled) {
		h.logger.Debug(context.Background(), "WebSocket write failed", "error", err.Error())
	}
	_ = conn.CloseNow()
}

// Close disconnects every session with StatusGoingAway and rejects new ones.
// It waits for connection handlers to return or ctx to end.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	sessions := h.snapshotLocked()
	h.sessions = make(map[*Session]struct{})
	h.perIP = make(map[string]int)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	h.cancel()
	h.logger.Info(context.Background(), "Live-reload hub closed", "sessions", len(sessions))
	return err
}

func hostOf(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
