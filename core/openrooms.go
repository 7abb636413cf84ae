package core

import (
	"sort"
	"sync"

	"pawchat/models"
)

// OpenRoom is a room the presentation layer currently renders. At most one
// open room is focused; only the focused room suppresses unread accrual.
type OpenRoom struct {
	RoomID      int64              `json:"room_id"`
	Focused     bool               `json:"focused"`
	Counterpart models.Participant `json:"counterpart"`
}

// OpenRooms tracks which rooms are presented to the viewer in the
// multi-window chat UI.
type OpenRooms struct {
	mu      sync.RWMutex
	entries map[int64]*OpenRoom
}

// NewOpenRooms returns an empty tracker.
func NewOpenRooms() *OpenRooms {
	return &OpenRooms{entries: make(map[int64]*OpenRoom)}
}

// Open marks the room as focused, un-focusing every other tracked room. A
// room not yet tracked is added with its counterpart display info resolved
// from the viewer's perspective.
func (o *OpenRooms) Open(room models.ChatRoom, viewerID int64, defaultAvatar string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, entry := range o.entries {
		entry.Focused = false
	}
	if entry, ok := o.entries[room.ID]; ok {
		entry.Focused = true
		return
	}
	o.entries[room.ID] = &OpenRoom{
		RoomID:      room.ID,
		Focused:     true,
		Counterpart: room.Counterpart(viewerID, defaultAvatar),
	}
}

// Close stops tracking the room. Returns false when it was not tracked.
func (o *OpenRooms) Close(roomID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[roomID]; !ok {
		return false
	}
	delete(o.entries, roomID)
	return true
}

// IsFocused reports whether the room is tracked and currently focused.
func (o *OpenRooms) IsFocused(roomID int64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	entry, ok := o.entries[roomID]
	return ok && entry.Focused
}

// IsOpen reports whether the room is tracked at all, focused or not.
func (o *OpenRooms) IsOpen(roomID int64) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.entries[roomID]
	return ok
}

// Tracked returns all open rooms ordered by room id.
func (o *OpenRooms) Tracked() []OpenRoom {
	o.mu.RLock()
	out := make([]OpenRoom, 0, len(o.entries))
	for _, entry := range o.entries {
		out = append(out, *entry)
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// Reset drops every tracked room, for logout.
func (o *OpenRooms) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = make(map[int64]*OpenRoom)
}
