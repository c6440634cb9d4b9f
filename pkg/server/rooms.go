package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zaebos/cryptochat/pkg/database"
)

// Room is an ephemeral grouping of sessions sharing a name. Identity is
// durable (the rooms table); membership is not.
type Room struct {
	ID      int64
	Name    string
	members map[*Session]struct{}
}

// RoomRegistry owns the in-memory room set. All membership mutations happen
// under the registry mutex so that the "last member leaves, room is
// deleted" check can never race a concurrent join.
type RoomRegistry struct {
	mu      sync.Mutex
	store   Store
	rooms   map[string]*Room
	metrics *Metrics
}

// NewRoomRegistry creates an empty registry backed by the store.
func NewRoomRegistry(store Store, metrics *Metrics) *RoomRegistry {
	return &RoomRegistry{
		store:   store,
		rooms:   make(map[string]*Room),
		metrics: metrics,
	}
}

// Join moves a session into the named room, leaving its previous room
// first. The room record is loaded from (or created in) durable storage on
// first join; the in-memory entry exists only while members remain.
func (r *RoomRegistry) Join(sess *Session, name string) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(sess)

	room, ok := r.rooms[name]
	if !ok {
		record, err := r.loadOrCreate(name)
		if err != nil {
			return nil, err
		}
		room = &Room{
			ID:      record.ID,
			Name:    record.Name,
			members: make(map[*Session]struct{}),
		}
		r.rooms[name] = room
	}

	room.members[sess] = struct{}{}
	sess.setRoom(&room.Name)
	debugLog.Printf("session %s joined room %q (%d members)", sess.ID(), name, len(room.members))
	return room, nil
}

func (r *RoomRegistry) loadOrCreate(name string) (*database.Room, error) {
	record, err := r.store.GetRoomByName(name)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, database.ErrRoomNotFound) {
		return nil, fmt.Errorf("failed to load room %q: %w", name, err)
	}
	id, err := r.store.CreateRoom(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create room %q: %w", name, err)
	}
	return &database.Room{ID: id, Name: name}, nil
}

// Leave removes the session from its room, deleting the room from memory
// when it empties. Idempotent: leaving while not joined is a no-op.
func (r *RoomRegistry) Leave(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sess)
}

func (r *RoomRegistry) leaveLocked(sess *Session) {
	name := sess.Room()
	if name == nil {
		return
	}
	sess.setRoom(nil)

	room, ok := r.rooms[*name]
	if !ok {
		debugLog.Printf("session %s left unknown room %q", sess.ID(), *name)
		return
	}
	delete(room.members, sess)
	if len(room.members) == 0 {
		delete(r.rooms, *name)
		debugLog.Printf("room %q empty, removed from registry", *name)
	}
}

// Members returns a snapshot of the room's member set, or nil if the room
// is not live.
func (r *RoomRegistry) Members(name string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[name]
	if !ok {
		return nil
	}
	members := make([]*Session, 0, len(room.members))
	for sess := range room.members {
		members = append(members, sess)
	}
	return members
}

// Live reports whether the room currently has members.
func (r *RoomRegistry) Live(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[name]
	return ok
}

// Broadcast queues payload for every current member through the pool. It
// never waits for sends to complete; a failed send is the member's problem
// (its connection gets closed by the transport error path), not the
// broadcaster's.
func (r *RoomRegistry) Broadcast(name string, payload []byte, pool *Limiter, onError func(*Session, error)) {
	members := r.Members(name)
	r.metrics.RecordBroadcastFanout(len(members))
	for _, sess := range members {
		sess := sess
		sess.Enqueue(pool, payload, func(err error) {
			if onError != nil {
				onError(sess, err)
			}
		})
	}
}
