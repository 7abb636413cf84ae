package models

import (
	"encoding/json"
	"fmt"
)

// Event is one of the four canonical shapes the reconciliation engine
// consumes. Every transport payload is normalized into one of these at the
// adapter boundary; the engine never sees a raw payload.
type Event interface {
	event()
}

// RoomListReplaced carries a full, already viewer-filtered room list from a
// poll. Applying it replaces the registry wholesale.
type RoomListReplaced struct {
	Rooms []ChatRoom
}

// RoomCreated announces a newly created room.
type RoomCreated struct {
	Room ChatRoom
}

// MessageAppended carries one new message for a known room.
type MessageAppended struct {
	RoomID  int64
	Message ChatMessage
}

// ReadStateChanged announces that someone marked a room as read.
type ReadStateChanged struct {
	RoomID   int64
	ReaderID int64
}

func (RoomListReplaced) event() {}
func (RoomCreated) event()      {}
func (MessageAppended) event()  {}
func (ReadStateChanged) event() {}

// PushEvent is a decoded push-notification payload. Its message content is
// never trusted; it is only a signal to re-fetch authoritative state.
type PushEvent struct {
	Kind     string
	RoomID   int64
	SenderID int64
}

// IsNewMessage reports whether the event kind is one of the synonym
// spellings for "a new or first message arrived".
func (e PushEvent) IsNewMessage() bool {
	switch e.Kind {
	case "NEW_MESSAGE", "FIRST_MESSAGE", "MESSAGE":
		return true
	}
	return false
}

// DecodePushEvent normalizes a raw push payload. The kind may arrive under
// "type" or "eventType", the room id under "chatRoomId" or "roomId", and the
// sender under "memberId" or "senderId".
func DecodePushEvent(data []byte) (PushEvent, error) {
	var raw struct {
		Type       string `json:"type"`
		EventType  string `json:"eventType"`
		ChatRoomID *int64 `json:"chatRoomId"`
		RoomID     *int64 `json:"roomId"`
		MemberID   *int64 `json:"memberId"`
		SenderID   *int64 `json:"senderId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return PushEvent{}, err
	}

	ev := PushEvent{Kind: raw.Type}
	if ev.Kind == "" {
		ev.Kind = raw.EventType
	}
	if ev.Kind == "" {
		return PushEvent{}, fmt.Errorf("push event has no kind field")
	}

	switch {
	case raw.ChatRoomID != nil:
		ev.RoomID = *raw.ChatRoomID
	case raw.RoomID != nil:
		ev.RoomID = *raw.RoomID
	default:
		return PushEvent{}, fmt.Errorf("push event %q has no room id", ev.Kind)
	}

	switch {
	case raw.MemberID != nil:
		ev.SenderID = *raw.MemberID
	case raw.SenderID != nil:
		ev.SenderID = *raw.SenderID
	}
	return ev, nil
}

// DecodeReadStatus decodes a read-state announcement from the live-update
// channel.
func DecodeReadStatus(data []byte) (roomID, readBy int64, err error) {
	var raw struct {
		RoomID int64 `json:"roomId"`
		ReadBy int64 `json:"readBy"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, 0, err
	}
	if raw.RoomID == 0 {
		return 0, 0, fmt.Errorf("read-status event has no room id")
	}
	return raw.RoomID, raw.ReadBy, nil
}
