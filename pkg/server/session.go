package server

import (
	"sync"
	"time"
)

// DefaultDisplayName is the placeholder identity before login.
const DefaultDisplayName = "anonymous"

// Session is the per-connection mutable state: identity, channel crypto
// keys, auth status and room membership. Inbound frames for one connection
// are handled serially by the transport's read loop, but outbound sends and
// registry sweeps touch sessions concurrently, so all state is behind mu.
type Session struct {
	conn Conn

	mu            sync.RWMutex
	displayName   string
	accountID     *int64
	email         string
	authenticated bool
	pendingCode   string
	roomName      *string
	key, iv       []byte
	connectedAt   int64
	lastActivity  int64

	out outbox
}

// outbox is the per-session FIFO of outbound payloads. A single drain
// goroutine owns the connection while the queue is non-empty, so frames to
// one client are never interleaved even though sends across clients run in
// parallel on the pools.
type outbox struct {
	mu       sync.Mutex
	queue    [][]byte
	draining bool
	dead     bool
}

func newSession(conn Conn) *Session {
	now := time.Now().UnixMilli()
	return &Session{
		conn:         conn,
		displayName:  DefaultDisplayName,
		connectedAt:  now,
		lastActivity: now,
	}
}

// ID returns the session identifier (the connection's remote address).
func (s *Session) ID() string {
	return s.conn.RemoteAddr()
}

// SetKeys installs the channel keys. They are generated exactly once at
// connection open and never change afterwards.
func (s *Session) SetKeys(key, iv []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		return
	}
	s.key = key
	s.iv = iv
}

// Keys returns the channel key and IV, nil before generation.
func (s *Session) Keys() (key, iv []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key, s.iv
}

// Authenticate binds the session to an account.
func (s *Session) Authenticate(accountID int64, name, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountID = &accountID
	s.displayName = name
	s.email = email
	s.authenticated = true
	s.pendingCode = ""
}

// Deauthenticate reverts the session to anonymous. Room membership is an
// independent axis and survives logout.
func (s *Session) Deauthenticate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountID = nil
	s.displayName = DefaultDisplayName
	s.email = ""
	s.authenticated = false
	s.pendingCode = ""
}

// Authenticated reports the auth state.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// AccountID returns the bound account id, nil while anonymous.
func (s *Session) AccountID() *int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountID
}

// DisplayName returns the current display name.
func (s *Session) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.displayName
}

// SetRegistering records the identity of a just-registered, not yet
// verified account on the session.
func (s *Session) SetRegistering(email, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = email
	s.pendingCode = code
	s.authenticated = false
}

// Email returns the session's account email ("" while anonymous and not
// registering).
func (s *Session) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}

// PendingCode returns the session-cached verification code.
func (s *Session) PendingCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingCode
}

// SetPendingCode replaces the session-cached verification code.
func (s *Session) SetPendingCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCode = code
}

// Room returns the joined room name, nil when not in a room.
func (s *Session) Room() *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomName
}

func (s *Session) setRoom(name *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomName = name
}

// Touch records inbound activity.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now().UnixMilli()
}

// Enqueue appends a payload to the session's outbox and ensures a drain is
// running on the given pool. The caller blocks only while the pool is
// saturated and no drain currently holds a slot for this session.
// onError is invoked (once per failed send) off the caller's goroutine.
func (s *Session) Enqueue(pool *Limiter, payload []byte, onError func(error)) {
	s.out.mu.Lock()
	if s.out.dead {
		s.out.mu.Unlock()
		return
	}
	s.out.queue = append(s.out.queue, payload)
	if s.out.draining {
		s.out.mu.Unlock()
		return
	}
	s.out.draining = true
	s.out.mu.Unlock()

	pool.Acquire()
	go s.drain(pool, onError)
}

func (s *Session) drain(pool *Limiter, onError func(error)) {
	defer pool.Release()
	for {
		s.out.mu.Lock()
		if len(s.out.queue) == 0 || s.out.dead {
			s.out.draining = false
			s.out.mu.Unlock()
			return
		}
		payload := s.out.queue[0]
		s.out.queue = s.out.queue[1:]
		s.out.mu.Unlock()

		if err := s.conn.Send(payload); err != nil {
			if onError != nil {
				onError(err)
			}
		}
	}
}

// CloseOutbox marks the session dead; queued payloads are discarded and
// later enqueues become no-ops.
func (s *Session) CloseOutbox() {
	s.out.mu.Lock()
	s.out.dead = true
	s.out.queue = nil
	s.out.mu.Unlock()
}

// SessionManager is the registry of live sessions, keyed by connection
// address.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *Metrics
}

// NewSessionManager creates an empty session registry.
func NewSessionManager(metrics *Metrics) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		metrics:  metrics,
	}
}

// Add registers a new session for a connection.
func (sm *SessionManager) Add(conn Conn) *Session {
	sess := newSession(conn)

	sm.mu.Lock()
	sm.sessions[sess.ID()] = sess
	count := len(sm.sessions)
	sm.mu.Unlock()

	sm.metrics.RecordActiveSessions(count)
	sm.metrics.RecordSessionCreated()
	return sess
}

// Get returns the session for a connection address.
func (sm *SessionManager) Get(id string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.sessions[id]
	return sess, ok
}

// Remove drops a session from the registry and kills its outbox. The
// caller is responsible for room cleanup and closing the connection.
func (sm *SessionManager) Remove(id string) (*Session, bool) {
	sm.mu.Lock()
	sess, ok := sm.sessions[id]
	if !ok {
		sm.mu.Unlock()
		return nil, false
	}
	delete(sm.sessions, id)
	count := len(sm.sessions)
	sm.mu.Unlock()

	sm.metrics.RecordActiveSessions(count)
	sm.metrics.RecordSessionDisconnected()

	sess.CloseOutbox()
	return sess, true
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CloseAll tears down every session.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	for _, sess := range sessions {
		sess.CloseOutbox()
		sess.conn.Close(CloseNormal)
	}
}
