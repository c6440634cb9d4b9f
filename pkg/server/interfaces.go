package server

import "github.com/zaebos/cryptochat/pkg/database"

// Store defines the durable-storage operations the server depends on. The
// SQLite implementation lives in pkg/database; tests substitute an
// in-memory mock.
type Store interface {
	// Account operations
	CreateUser(name, email, passwordHash, verificationCode string) (int64, error)
	GetUserByEmail(email string) (*database.User, error)
	NameExists(name string) (bool, error)
	EmailExists(email string) (bool, error)
	UpdateTokens(userID int64, tokens []string) error
	SetVerificationCode(userID int64, code *string) error
	TouchLastOnline(userID int64) error

	// Room operations
	GetRoomByName(name string) (*database.Room, error)
	CreateRoom(name string) (int64, error)

	// Message operations
	InsertMessage(roomName, author, text string, timeMillis int64) (int64, error)
	ListMessagesAfter(roomName string, afterID int64, limit int) ([]*database.Message, error)

	Close() error
}

// Conn is the transport collaborator's view of one client connection. The
// WebSocket adapter implements it; the core never touches framing.
type Conn interface {
	// RemoteAddr identifies the connection; it keys the session registry.
	RemoteAddr() string
	// Send writes one outbound frame payload. Serialized by the session's
	// outbox, never called concurrently for the same connection.
	Send(payload []byte) error
	// Close tears the connection down with a close status code.
	Close(code int) error
}

// Transport close codes surfaced to the adapter.
const (
	CloseNormal        = 1000
	CloseProtocolError = 1002
)
