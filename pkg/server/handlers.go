package server

import (
	"time"

	"github.com/zaebos/cryptochat/pkg/protocol"
)

// response is a handler's outcome: the positional response fields (the
// correlation id is prepended by the sender) and whether the frame must be
// encrypted. A nil *response drops the request without replying.
type response struct {
	fields    []interface{}
	encrypted bool
}

type handlerFunc func(*Session, *protocol.Request) *response

// newDispatchTable builds the kind→handler map once at startup. Every kind
// in the schema registry has exactly one handler.
func (s *Server) newDispatchTable() map[byte]handlerFunc {
	return map[byte]handlerFunc{
		protocol.KindSendMessage:         s.handleSendMessage,
		protocol.KindLogin:               s.handleLogin,
		protocol.KindEnterRoom:           s.handleEnterRoom,
		protocol.KindCheckUsername:       s.handleCheckUsername,
		protocol.KindCheckEmail:          s.handleCheckEmail,
		protocol.KindRegister:            s.handleRegister,
		protocol.KindVerifyEmail:         s.handleVerifyEmail,
		protocol.KindTokenLogin:          s.handleTokenLogin,
		protocol.KindLogout:              s.handleLogout,
		protocol.KindNewVerificationCode: s.handleNewVerificationCode,
	}
}

func bit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// handleSendMessage persists the message and fans it out to the room.
// Requires authentication and room membership; fails closed otherwise.
func (s *Server) handleSendMessage(sess *Session, req *protocol.Request) *response {
	if !sess.Authenticated() {
		debugLog.Printf("session %s: send_message while unauthenticated", sess.ID())
		return nil
	}
	room := sess.Room()
	if room == nil {
		debugLog.Printf("session %s: send_message outside a room", sess.ID())
		return nil
	}

	text := req.Args[0].(string)
	author := sess.DisplayName()
	now := time.Now().UnixMilli()

	id, err := s.store.InsertMessage(*room, author, text, now)
	if err != nil {
		errorLog.Printf("session %s: failed to store message: %v", sess.ID(), err)
		return nil
	}

	push, err := protocol.EncodePush(protocol.KindRoomMessage, []interface{}{id, author, text, now})
	if err != nil {
		errorLog.Printf("failed to encode room message: %v", err)
		return nil
	}
	s.rooms.Broadcast(*room, plainFrame(push), s.broadcastPool, s.onSendFailure)

	return &response{fields: []interface{}{}}
}

// handleLogin checks the password; with request_token set, a fresh rotating
// token is minted and the response goes out encrypted.
func (s *Server) handleLogin(sess *Session, req *protocol.Request) *response {
	emailAddr := req.Args[0].(string)
	password := req.Args[1].(string)
	wantToken := req.Args[2].(float64) == 1

	res, err := s.accounts.Login(emailAddr, password, wantToken)
	if err != nil {
		errorLog.Printf("session %s: login failed: %v", sess.ID(), err)
		return nil
	}

	if res.Accepted {
		if res.NeedsVerification {
			sess.SetRegistering(res.Email, "")
		} else {
			sess.Authenticate(res.AccountID, res.Name, res.Email)
		}
	}

	return &response{
		fields:    []interface{}{bit(res.Accepted), res.Name, bit(res.NeedsVerification), res.Token},
		encrypted: res.Token != "",
	}
}

// handleEnterRoom joins the room (creating it durably on first join) and
// returns history newer than the client's last-seen message id.
func (s *Server) handleEnterRoom(sess *Session, req *protocol.Request) *response {
	name := req.Args[0].(string)
	lastID := int64(req.Args[1].(float64))

	if _, err := s.rooms.Join(sess, name); err != nil {
		errorLog.Printf("session %s: failed to join room %q: %v", sess.ID(), name, err)
		return nil
	}

	history, err := s.store.ListMessagesAfter(name, lastID, s.historyLimit)
	if err != nil {
		errorLog.Printf("session %s: failed to load history for %q: %v", sess.ID(), name, err)
		return nil
	}

	list := make([]interface{}, 0, len(history))
	for _, m := range history {
		list = append(list, []interface{}{m.ID, m.Author, m.Text, m.Time})
	}
	return &response{fields: []interface{}{list}}
}

func (s *Server) handleCheckUsername(sess *Session, req *protocol.Request) *response {
	name := NormalizeName(req.Args[0].(string))
	taken, err := s.store.NameExists(name)
	if err != nil {
		errorLog.Printf("session %s: name check failed: %v", sess.ID(), err)
		return nil
	}
	return &response{fields: []interface{}{bit(!taken)}}
}

func (s *Server) handleCheckEmail(sess *Session, req *protocol.Request) *response {
	emailAddr := NormalizeEmail(req.Args[0].(string))
	taken, err := s.store.EmailExists(emailAddr)
	if err != nil {
		errorLog.Printf("session %s: email check failed: %v", sess.ID(), err)
		return nil
	}
	return &response{fields: []interface{}{bit(!taken)}}
}

// handleRegister creates the account and leaves the session holding the
// pending verification code until verify_email.
func (s *Server) handleRegister(sess *Session, req *protocol.Request) *response {
	emailAddr := req.Args[0].(string)
	name := req.Args[1].(string)
	password := req.Args[2].(string)

	res, err := s.accounts.Register(emailAddr, name, password)
	if err != nil {
		errorLog.Printf("session %s: registration failed: %v", sess.ID(), err)
		return nil
	}
	if res.Accepted {
		sess.SetRegistering(res.Email, res.Code)
	}
	return &response{
		fields: []interface{}{bit(res.Accepted), bit(res.EmailAvailable), bit(res.NameAvailable)},
	}
}

// handleVerifyEmail transitions the session to authenticated when the code
// matches. A mismatch keeps the account pending; the client may retry.
func (s *Server) handleVerifyEmail(sess *Session, req *protocol.Request) *response {
	emailAddr := sess.Email()
	if emailAddr == "" {
		debugLog.Printf("session %s: verify_email without a pending registration", sess.ID())
		return nil
	}
	code := req.Args[0].(string)

	user, ok, err := s.accounts.VerifyEmail(emailAddr, code)
	if err != nil {
		errorLog.Printf("session %s: verification failed: %v", sess.ID(), err)
		return nil
	}
	if ok {
		sess.Authenticate(user.ID, user.Name, user.Email)
	}
	return &response{fields: []interface{}{bit(ok)}}
}

// handleTokenLogin rotates a single-use token. Responses always go out
// encrypted since they carry the replacement token.
func (s *Server) handleTokenLogin(sess *Session, req *protocol.Request) *response {
	emailAddr := req.Args[0].(string)
	token := req.Args[1].(string)

	res, err := s.accounts.TokenLogin(emailAddr, token)
	if err != nil {
		errorLog.Printf("session %s: token login failed: %v", sess.ID(), err)
		return nil
	}

	if res.Accepted {
		if res.NeedsVerification {
			sess.SetRegistering(res.Email, "")
		} else {
			sess.Authenticate(res.AccountID, res.Name, res.Email)
		}
	}

	return &response{
		fields:    []interface{}{bit(res.Accepted), bit(res.NeedsVerification), res.Name, res.Token},
		encrypted: true,
	}
}

// handleLogout requires an authenticated session; a supplied token is
// revoked before the session reverts to anonymous.
func (s *Server) handleLogout(sess *Session, req *protocol.Request) *response {
	if !sess.Authenticated() {
		debugLog.Printf("session %s: logout while unauthenticated", sess.ID())
		return nil
	}
	token := req.Args[0].(string)
	if token != "" {
		if err := s.accounts.RevokeToken(sess.Email(), token); err != nil {
			errorLog.Printf("session %s: token revocation failed: %v", sess.ID(), err)
		}
	}
	sess.Deauthenticate()
	return &response{fields: []interface{}{}}
}

// handleNewVerificationCode re-issues a code; only valid while the account
// is still unverified.
func (s *Server) handleNewVerificationCode(sess *Session, req *protocol.Request) *response {
	emailAddr := sess.Email()
	if emailAddr == "" || sess.Authenticated() {
		debugLog.Printf("session %s: new_verification_code in wrong state", sess.ID())
		return nil
	}
	code, err := s.accounts.ReissueCode(emailAddr)
	if err != nil {
		errorLog.Printf("session %s: code reissue failed: %v", sess.ID(), err)
		return nil
	}
	sess.SetPendingCode(code)
	return &response{fields: []interface{}{}}
}
