// Package database is the durable store for accounts, rooms and message
// history, backed by SQLite.
package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrUserNotFound indicates no account matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrRoomNotFound indicates no room record matches the lookup.
	ErrRoomNotFound = errors.New("room not found")
)

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
}

// Open opens the SQLite database at path and initializes the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; WAL lets readers proceed alongside it
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	tokens TEXT NOT NULL DEFAULT '[]',
	verification_code TEXT,
	joined INTEGER NOT NULL,
	last_online INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	created INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room_name TEXT NOT NULL,
	user TEXT NOT NULL,
	text TEXT NOT NULL,
	show INTEGER NOT NULL DEFAULT 1,
	time INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_name, id);
`
	_, err := db.conn.Exec(schema)
	return err
}

// User is a durable account record. Tokens is ordered oldest-first and
// capped by the account manager, not by the store.
type User struct {
	ID               int64
	Name             string
	Email            string
	PasswordHash     string
	Tokens           []string
	VerificationCode *string
	Joined           int64 // Unix millis
	LastOnline       int64 // Unix millis
}

// Room is a durable room record. Name doubles as the message-history key.
type Room struct {
	ID      int64
	Name    string
	Created int64 // Unix millis
}

// Message is a durable chat message. Visible=false marks a soft delete.
type Message struct {
	ID       int64
	RoomName string
	Author   string
	Text     string
	Visible  bool
	Time     int64 // Unix millis
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// CreateUser inserts a new account with an empty token list and the given
// pending verification code.
func (db *DB) CreateUser(name, email, passwordHash, verificationCode string) (int64, error) {
	now := nowMillis()
	res, err := db.conn.Exec(
		`INSERT INTO users (name, email, password, tokens, verification_code, joined, last_online)
		 VALUES (?, ?, ?, '[]', ?, ?, ?)`,
		name, email, passwordHash, verificationCode, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return res.LastInsertId()
}

// GetUserByEmail fetches an account by (already normalized) email.
func (db *DB) GetUserByEmail(email string) (*User, error) {
	row := db.conn.QueryRow(
		`SELECT id, name, email, password, tokens, verification_code, joined, last_online
		 FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var tokensJSON string
	var code sql.NullString
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &tokensJSON, &code, &u.Joined, &u.LastOnline)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if err := json.Unmarshal([]byte(tokensJSON), &u.Tokens); err != nil {
		return nil, fmt.Errorf("failed to decode token list for user %d: %w", u.ID, err)
	}
	if code.Valid {
		u.VerificationCode = &code.String
	}
	return &u, nil
}

// NameExists reports whether an account with the given name exists.
func (db *DB) NameExists(name string) (bool, error) {
	return db.exists(`SELECT 1 FROM users WHERE name = ?`, name)
}

// EmailExists reports whether an account with the given email exists.
func (db *DB) EmailExists(email string) (bool, error) {
	return db.exists(`SELECT 1 FROM users WHERE email = ?`, email)
}

func (db *DB) exists(query, arg string) (bool, error) {
	var one int
	err := db.conn.QueryRow(query, arg).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("existence check failed: %w", err)
	}
	return true, nil
}

// UpdateTokens replaces an account's token list in one write.
func (db *DB) UpdateTokens(userID int64, tokens []string) error {
	if tokens == nil {
		tokens = []string{}
	}
	encoded, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode token list: %w", err)
	}
	_, err = db.conn.Exec(`UPDATE users SET tokens = ? WHERE id = ?`, string(encoded), userID)
	if err != nil {
		return fmt.Errorf("failed to update tokens for user %d: %w", userID, err)
	}
	return nil
}

// SetVerificationCode sets or clears (nil) an account's pending code.
func (db *DB) SetVerificationCode(userID int64, code *string) error {
	var value sql.NullString
	if code != nil {
		value = sql.NullString{String: *code, Valid: true}
	}
	_, err := db.conn.Exec(`UPDATE users SET verification_code = ? WHERE id = ?`, value, userID)
	if err != nil {
		return fmt.Errorf("failed to update verification code for user %d: %w", userID, err)
	}
	return nil
}

// TouchLastOnline records account activity.
func (db *DB) TouchLastOnline(userID int64) error {
	_, err := db.conn.Exec(`UPDATE users SET last_online = ? WHERE id = ?`, nowMillis(), userID)
	if err != nil {
		return fmt.Errorf("failed to touch last_online for user %d: %w", userID, err)
	}
	return nil
}

// GetRoomByName fetches a room record by name.
func (db *DB) GetRoomByName(name string) (*Room, error) {
	var r Room
	err := db.conn.QueryRow(`SELECT id, name, created FROM rooms WHERE name = ?`, name).
		Scan(&r.ID, &r.Name, &r.Created)
	if err == sql.ErrNoRows {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch room %q: %w", name, err)
	}
	return &r, nil
}

// CreateRoom inserts a new room record and returns its id.
func (db *DB) CreateRoom(name string) (int64, error) {
	res, err := db.conn.Exec(`INSERT INTO rooms (name, created) VALUES (?, ?)`, name, nowMillis())
	if err != nil {
		return 0, fmt.Errorf("failed to create room %q: %w", name, err)
	}
	return res.LastInsertId()
}

// InsertMessage appends a visible message and returns its id.
func (db *DB) InsertMessage(roomName, author, text string, timeMillis int64) (int64, error) {
	res, err := db.conn.Exec(
		`INSERT INTO messages (room_name, user, text, show, time) VALUES (?, ?, ?, 1, ?)`,
		roomName, author, text, timeMillis,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.LastInsertId()
}

// ListMessagesAfter returns up to limit visible messages in roomName with an
// id greater than afterID, in ascending id order.
func (db *DB) ListMessagesAfter(roomName string, afterID int64, limit int) ([]*Message, error) {
	rows, err := db.conn.Query(
		`SELECT id, room_name, user, text, show, time FROM messages
		 WHERE room_name = ? AND id > ? AND show = 1
		 ORDER BY id ASC LIMIT ?`,
		roomName, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for room %q: %w", roomName, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var show int
		if err := rows.Scan(&m.ID, &m.RoomName, &m.Author, &m.Text, &show, &m.Time); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Visible = show == 1
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
