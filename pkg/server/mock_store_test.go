package server

import (
	"sync"

	"github.com/zaebos/cryptochat/pkg/database"
)

// mockStore is an in-memory Store for handler and account tests.
type mockStore struct {
	mu         sync.Mutex
	users      map[int64]*database.User
	rooms      map[string]*database.Room
	messages   []*database.Message
	nextUserID int64
	nextRoomID int64
	nextMsgID  int64
}

func newMockStore() *mockStore {
	return &mockStore{
		users:      make(map[int64]*database.User),
		rooms:      make(map[string]*database.Room),
		nextUserID: 1,
		nextRoomID: 1,
		nextMsgID:  1,
	}
}

func copyUser(u *database.User) *database.User {
	cp := *u
	cp.Tokens = append([]string(nil), u.Tokens...)
	if u.VerificationCode != nil {
		code := *u.VerificationCode
		cp.VerificationCode = &code
	}
	return &cp
}

func (m *mockStore) CreateUser(name, email, passwordHash, verificationCode string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextUserID
	m.nextUserID++
	code := verificationCode
	m.users[id] = &database.User{
		ID:               id,
		Name:             name,
		Email:            email,
		PasswordHash:     passwordHash,
		Tokens:           []string{},
		VerificationCode: &code,
	}
	return id, nil
}

func (m *mockStore) GetUserByEmail(email string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, database.ErrUserNotFound
}

func (m *mockStore) NameExists(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) EmailExists(email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) UpdateTokens(userID int64, tokens []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.Tokens = append([]string(nil), tokens...)
	}
	return nil
}

func (m *mockStore) SetVerificationCode(userID int64, code *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		if code == nil {
			u.VerificationCode = nil
		} else {
			c := *code
			u.VerificationCode = &c
		}
	}
	return nil
}

func (m *mockStore) TouchLastOnline(userID int64) error {
	return nil
}

func (m *mockStore) GetRoomByName(name string) (*database.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[name]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, database.ErrRoomNotFound
}

func (m *mockStore) CreateRoom(name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextRoomID
	m.nextRoomID++
	m.rooms[name] = &database.Room{ID: id, Name: name}
	return id, nil
}

func (m *mockStore) InsertMessage(roomName, author, text string, timeMillis int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextMsgID
	m.nextMsgID++
	m.messages = append(m.messages, &database.Message{
		ID:       id,
		RoomName: roomName,
		Author:   author,
		Text:     text,
		Visible:  true,
		Time:     timeMillis,
	})
	return id, nil
}

func (m *mockStore) ListMessagesAfter(roomName string, afterID int64, limit int) ([]*database.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*database.Message
	for _, msg := range m.messages {
		if msg.RoomName == roomName && msg.ID > afterID && msg.Visible {
			cp := *msg
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) Close() error { return nil }

func (m *mockStore) userByID(id int64) *database.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return copyUser(u)
	}
	return nil
}

func (m *mockStore) messageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *mockStore) userCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}
