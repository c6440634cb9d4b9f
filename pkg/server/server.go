// Package server implements the session protocol engine: per-connection
// encrypted request/response handling, table-driven validation and
// dispatch, the account/token state machine, and bounded-concurrency room
// broadcast.
package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zaebos/cryptochat/pkg/crypto"
	"github.com/zaebos/cryptochat/pkg/email"
	"github.com/zaebos/cryptochat/pkg/protocol"
)

// Server owns every live collaborator: the session registry, room registry,
// account manager, schema registry, dispatch table and the two send pools.
type Server struct {
	store        Store
	mailer       email.Sender
	sessions     *SessionManager
	rooms        *RoomRegistry
	accounts     *AccountManager
	registry     *protocol.Registry
	handlers     map[byte]handlerFunc
	metrics      *Metrics
	historyLimit int

	broadcastPool *Limiter
	replyPool     *Limiter

	httpServer    *http.Server
	metricsServer *http.Server
	config        TOMLConfig
}

// NewServer wires a server from its collaborators. metrics may be nil.
func NewServer(store Store, mailer email.Sender, config TOMLConfig, metrics *Metrics) *Server {
	s := &Server{
		store:         store,
		mailer:        mailer,
		sessions:      NewSessionManager(metrics),
		rooms:         NewRoomRegistry(store, metrics),
		accounts:      NewAccountManager(store, mailer),
		registry:      protocol.DefaultRegistry(),
		metrics:       metrics,
		historyLimit:  config.Limits.HistoryLimit,
		broadcastPool: NewLimiter("broadcast", config.Limits.BroadcastWorkers, metrics),
		replyPool:     NewLimiter("reply", config.Limits.ReplyWorkers, metrics),
		config:        config,
	}
	s.handlers = s.newDispatchTable()
	return s
}

// Start begins serving WebSocket upgrades and, when configured, the
// metrics endpoint. Non-blocking.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	s.httpServer = &http.Server{Addr: s.config.Server.ListenAddr, Handler: mux}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("listener failed: %v", err)
		}
	}()
	debugLog.Printf("listening on %s", s.config.Server.ListenAddr)

	if s.config.Server.MetricsAddr != "" && s.metrics != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		s.metricsServer = &http.Server{Addr: s.config.Server.MetricsAddr, Handler: metricsMux}
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorLog.Printf("metrics listener failed: %v", err)
			}
		}()
	}
	return nil
}

// Stop shuts the listeners down, closes all sessions and the store.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpServer != nil {
		s.httpServer.Shutdown(ctx)
	}
	if s.metricsServer != nil {
		s.metricsServer.Shutdown(ctx)
	}
	s.sessions.CloseAll()
	return s.store.Close()
}

// OnOpen handles a new connection: create the session, generate the channel
// keys and push them to the client unencrypted, immediately.
func (s *Server) OnOpen(conn Conn) {
	sess := s.sessions.Add(conn)

	key, iv, err := crypto.GenerateKeys()
	if err != nil {
		errorLog.Printf("session %s: key generation failed: %v", sess.ID(), err)
		s.closeSession(conn, CloseProtocolError)
		return
	}
	sess.SetKeys(key, iv)

	push, err := protocol.EncodePush(protocol.KindKeyDelivery, []interface{}{
		hex.EncodeToString(key), hex.EncodeToString(iv),
	})
	if err != nil {
		errorLog.Printf("session %s: key push encode failed: %v", sess.ID(), err)
		s.closeSession(conn, CloseProtocolError)
		return
	}
	sess.Enqueue(s.replyPool, plainFrame(push), func(err error) { s.onSendFailure(sess, err) })
	debugLog.Printf("session %s connected", sess.ID())
}

// OnFrame handles one inbound frame payload. Every structural failure is
// fail-closed: logged and dropped without a response, except an invalid
// encryption flag, which closes the connection with a protocol error.
func (s *Server) OnFrame(conn Conn, payload []byte) {
	sess, ok := s.sessions.Get(conn.RemoteAddr())
	if !ok {
		return
	}
	sess.Touch()

	if len(payload) < 2 {
		s.metrics.RecordDropped("short_frame")
		debugLog.Printf("session %s: frame below minimum length", sess.ID())
		return
	}

	var raw string
	switch payload[0] {
	case protocol.FlagPlain:
		raw = string(payload[1:])
	case protocol.FlagEncrypted:
		ciphertext := string(payload[1:])
		if len(ciphertext)%16 != 0 {
			s.metrics.RecordDropped("misaligned_ciphertext")
			debugLog.Printf("session %s: ciphertext not block-aligned", sess.ID())
			return
		}
		key, iv := sess.Keys()
		if key == nil {
			s.metrics.RecordDropped("no_keys")
			debugLog.Printf("session %s: encrypted frame before key generation", sess.ID())
			return
		}
		plaintext, err := crypto.Decrypt(ciphertext, key, iv)
		if err != nil {
			s.metrics.RecordDropped("decryption_error")
			debugLog.Printf("session %s: decryption failed: %v", sess.ID(), err)
			return
		}
		raw = string(plaintext)
	default:
		// Malformed opcode: protocol-error close, per the framing contract
		errorLog.Printf("session %s: invalid encryption flag 0x%02x, closing", sess.ID(), payload[0])
		s.closeSession(conn, CloseProtocolError)
		return
	}

	req, err := s.registry.Validate(raw)
	if err != nil {
		s.metrics.RecordDropped("validation_failed")
		debugLog.Printf("session %s: request rejected: %v", sess.ID(), err)
		return
	}
	s.metrics.RecordRequest(req.Name)

	s.dispatch(sess, req)
}

// dispatch invokes the handler for a validated request and sends its
// response, if any, through the reply pool.
func (s *Server) dispatch(sess *Session, req *protocol.Request) {
	handler, ok := s.handlers[req.Kind]
	if !ok {
		// Registry and dispatch table are built from the same kind set
		errorLog.Printf("no handler for registered kind %q", req.Kind)
		return
	}

	resp := handler(sess, req)
	if resp == nil {
		s.metrics.RecordDropped("handler_rejected")
		return
	}
	s.sendResponse(sess, req.Kind, req.CorrelationID, resp)
}

// sendResponse encodes and queues a direct response on the reply pool.
func (s *Server) sendResponse(sess *Session, kind byte, correlationID int64, resp *response) {
	body, err := protocol.Encode(kind, correlationID, resp.fields)
	if err != nil {
		errorLog.Printf("session %s: response encode failed: %v", sess.ID(), err)
		return
	}

	var payload []byte
	if resp.encrypted {
		key, iv := sess.Keys()
		if key == nil {
			errorLog.Printf("session %s: encrypted response requested before key generation", sess.ID())
			return
		}
		ciphertext, err := crypto.Encrypt(body, key, iv)
		if err != nil {
			errorLog.Printf("session %s: response encryption failed: %v", sess.ID(), err)
			return
		}
		payload = encryptedFrame(ciphertext)
	} else {
		payload = plainFrame(body)
	}

	s.metrics.RecordResponseSent()
	sess.Enqueue(s.replyPool, payload, func(err error) { s.onSendFailure(sess, err) })
}

// OnClose handles a transport disconnect: leave the room, drop the session.
func (s *Server) OnClose(conn Conn) {
	sess, ok := s.sessions.Remove(conn.RemoteAddr())
	if !ok {
		return
	}
	s.rooms.Leave(sess)
	debugLog.Printf("session %s disconnected", sess.ID())
}

// onSendFailure treats a failed in-flight send as a connection-level error:
// the peer's connection is closed, which feeds back into OnClose.
func (s *Server) onSendFailure(sess *Session, err error) {
	debugLog.Printf("session %s: send failed: %v", sess.ID(), err)
	s.closeSession(sess.conn, CloseNormal)
}

func (s *Server) closeSession(conn Conn, code int) {
	conn.Close(code)
	s.OnClose(conn)
}

// plainFrame prepends the plaintext encryption flag.
func plainFrame(body []byte) []byte {
	out := make([]byte, 0, len(body)+1)
	out = append(out, protocol.FlagPlain)
	return append(out, body...)
}

// encryptedFrame prepends the encrypted flag to hex ciphertext.
func encryptedFrame(ciphertextHex string) []byte {
	out := make([]byte, 0, len(ciphertextHex)+1)
	out = append(out, protocol.FlagEncrypted)
	return append(out, ciphertextHex...)
}

// Addr returns the configured listen address (for logs).
func (s *Server) Addr() string {
	return s.config.Server.ListenAddr
}

// String implements fmt.Stringer for debug logs.
func (s *Server) String() string {
	return fmt.Sprintf("cryptochat server on %s (%d sessions)", s.Addr(), s.sessions.Count())
}
