package core

import (
	"sort"
	"sync"

	"pawchat/models"
)

// Registry is the in-memory set of known chat rooms, keyed by room id. It is
// the single source of truth the presentation layer renders from. Compound
// mutations are serialized by the engine goroutine; the registry's own lock
// only protects concurrent reads against them.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int64]*models.ChatRoom
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[int64]*models.ChatRoom)}
}

// Insert adds a room only if its id is unknown (first-write-wins).
// Returns false when a room with that id already exists.
func (r *Registry) Insert(room models.ChatRoom) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room.ID]; ok {
		return false
	}
	r.rooms[room.ID] = &room
	return true
}

// Upsert inserts the room or merges it into the existing entry with the same
// id: scalar fields are replaced, messages are appended with dedup by id,
// and the higher-confidence unread count wins (a confirmed count is never
// overwritten by an unconfirmed one).
func (r *Registry) Upsert(room models.ChatRoom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rooms[room.ID]
	if !ok {
		r.rooms[room.ID] = &room
		return
	}

	merged := room
	merged.ChatMessages = existing.ChatMessages
	for _, msg := range room.ChatMessages {
		if !merged.HasMessage(msg.ID) {
			merged.ChatMessages = append(merged.ChatMessages, msg)
		}
	}
	if existing.UnreadConfirmed && !room.UnreadConfirmed {
		merged.UnreadCount = existing.UnreadCount
		merged.UnreadConfirmed = true
	}
	r.rooms[room.ID] = &merged
}

// Remove deletes a room. Returns false when the room was not present.
func (r *Registry) Remove(roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[roomID]; !ok {
		return false
	}
	delete(r.rooms, roomID)
	return true
}

// ReplaceAll swaps the whole registry for the given list, dropping rooms the
// list no longer includes.
func (r *Registry) ReplaceAll(rooms []models.ChatRoom) {
	next := make(map[int64]*models.ChatRoom, len(rooms))
	for i := range rooms {
		room := rooms[i]
		next[room.ID] = &room
	}
	r.mu.Lock()
	r.rooms = next
	r.mu.Unlock()
}

// Get returns a copy of the room with the given id.
func (r *Registry) Get(roomID int64) (models.ChatRoom, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return models.ChatRoom{}, false
	}
	return copyRoom(room), true
}

// Has reports whether the room id is known.
func (r *Registry) Has(roomID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Len returns the number of known rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Mutate applies fn to the room under the write lock. Returns false when the
// room is unknown. fn must not retain the pointer.
func (r *Registry) Mutate(roomID int64, fn func(*models.ChatRoom)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	fn(room)
	return true
}

// List returns copies of all rooms ordered by most-recent-activity
// descending, ties broken by room id descending.
func (r *Registry) List() []models.ChatRoom {
	r.mu.RLock()
	out := make([]models.ChatRoom, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, copyRoom(room))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].LastActivity(), out[j].LastActivity()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func copyRoom(room *models.ChatRoom) models.ChatRoom {
	cp := *room
	cp.ChatMessages = make([]models.ChatMessage, len(room.ChatMessages))
	copy(cp.ChatMessages, room.ChatMessages)
	return cp
}
