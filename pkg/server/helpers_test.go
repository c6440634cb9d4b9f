package server

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

// initTestLoggers discards log output during tests.
func initTestLoggers(t *testing.T) {
	t.Helper()
	errorLog = log.New(io.Discard, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
}

// mockConn implements Conn, capturing everything sent to it.
type mockConn struct {
	addr string

	mu        sync.Mutex
	sent      [][]byte
	closed    bool
	closeCode int
	sendErr   error
}

func newMockConn(addr string) *mockConn {
	return &mockConn{addr: addr}
}

func (c *mockConn) RemoteAddr() string { return c.addr }

func (c *mockConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	cp := append([]byte(nil), payload...)
	c.sent = append(c.sent, cp)
	return nil
}

func (c *mockConn) Close(code int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	return nil
}

func (c *mockConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *mockConn) sentAt(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[i]
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// waitForSends polls until the connection has received at least n payloads.
func waitForSends(t *testing.T, c *mockConn, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.sentCount() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sends, got %d", n, c.sentCount())
}

// settle gives outbox drains a moment to run when asserting that nothing
// further was sent.
func settle() {
	time.Sleep(20 * time.Millisecond)
}

// mockMailer records sent mail.
type mockMailer struct {
	mu   sync.Mutex
	mail []mockMail
}

type mockMail struct {
	to, subject, body string
}

func (m *mockMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mail = append(m.mail, mockMail{to, subject, body})
	return nil
}

func (m *mockMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mail)
}

func (m *mockMailer) at(i int) mockMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mail[i]
}

// waitForMail polls until n messages have been sent.
func waitForMail(t *testing.T, m *mockMailer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.count() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d mails, got %d", n, m.count())
}

// testServer builds a server on the in-memory store with no metrics.
func testServer(t *testing.T) (*Server, *mockStore, *mockMailer) {
	t.Helper()
	initTestLoggers(t)

	store := newMockStore()
	mailer := &mockMailer{}
	config := DefaultTOMLConfig()
	srv := NewServer(store, mailer, config, nil)
	return srv, store, mailer
}

// openSession runs the connection-open path and returns the session plus
// its mock connection. The key-delivery push is waited for and skipped.
func openSession(t *testing.T, srv *Server, addr string) (*Session, *mockConn) {
	t.Helper()
	conn := newMockConn(addr)
	srv.OnOpen(conn)
	sess, ok := srv.sessions.Get(addr)
	if !ok {
		t.Fatalf("session %s not registered", addr)
	}
	waitForSends(t, conn, 1)
	return sess, conn
}
