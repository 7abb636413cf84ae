package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies which side of a two-person room a user occupies.
type Role int

const (
	RoleNone Role = iota
	RoleChatUser
	RoleTargetUser
)

// Participant is one side of a chat room, as shown in room lists.
type Participant struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	ImageURL string `json:"image_url"`
}

// ChatMessage is a single message inside a room. Messages are never
// mutated after creation except for their two read flags.
type ChatMessage struct {
	ID             int64     `json:"id"`
	SenderID       int64     `json:"memberId"`
	Content        string    `json:"content"`
	CreatedDate    time.Time `json:"createdDate"`
	ChatUserRead   bool      `json:"chatUserRead"`
	TargetUserRead bool      `json:"targetUserRead"`
}

// UnmarshalJSON accepts the backend's alias spellings: the message id may
// arrive as "id" or "chatMessageId", the sender as "memberId" or "senderId",
// and the timestamp as "createdDate" or "createDate".
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             *int64 `json:"id"`
		ChatMessageID  *int64 `json:"chatMessageId"`
		MemberID       *int64 `json:"memberId"`
		SenderID       *int64 `json:"senderId"`
		Content        string `json:"content"`
		CreatedDate    string `json:"createdDate"`
		CreateDate     string `json:"createDate"`
		ChatUserRead   bool   `json:"chatUserRead"`
		TargetUserRead bool   `json:"targetUserRead"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw.ID != nil:
		m.ID = *raw.ID
	case raw.ChatMessageID != nil:
		m.ID = *raw.ChatMessageID
	default:
		return fmt.Errorf("chat message has no id field")
	}

	switch {
	case raw.MemberID != nil:
		m.SenderID = *raw.MemberID
	case raw.SenderID != nil:
		m.SenderID = *raw.SenderID
	}

	ts := raw.CreatedDate
	if ts == "" {
		ts = raw.CreateDate
	}
	parsed, err := ParseWireTime(ts)
	if err != nil {
		return fmt.Errorf("chat message %d: %w", m.ID, err)
	}
	m.CreatedDate = parsed

	m.Content = raw.Content
	m.ChatUserRead = raw.ChatUserRead
	m.TargetUserRead = raw.TargetUserRead
	return nil
}

// ChatRoom is a two-participant conversation plus its message history.
// UnreadCount is derived locally and never trusted from the server;
// UnreadConfirmed is false while an optimistic read-state update is waiting
// for the next authoritative full-list fetch.
type ChatRoom struct {
	ID                 int64         `json:"id"`
	ChatUserID         int64         `json:"chatUserId"`
	ChatUserNickname   string        `json:"chatUserNickname"`
	ChatUserImageURL   string        `json:"chatUserImageUrl"`
	TargetUserID       int64         `json:"targetUserId"`
	TargetUserNickname string        `json:"targetUserNickname"`
	TargetUserImageURL string        `json:"targetUserImageUrl"`
	ChatMessages       []ChatMessage `json:"chatMessages"`
	ModifiedDate       time.Time     `json:"modifiedDate"`

	UnreadCount     int  `json:"unreadCount"`
	UnreadConfirmed bool `json:"-"`
}

// UnmarshalJSON tolerates the backend's timestamp format (no zone suffix).
func (r *ChatRoom) UnmarshalJSON(data []byte) error {
	type alias ChatRoom
	var raw struct {
		alias
		ModifiedDate string `json:"modifiedDate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ChatRoom(raw.alias)
	if raw.ModifiedDate != "" {
		parsed, err := ParseWireTime(raw.ModifiedDate)
		if err != nil {
			return fmt.Errorf("chat room %d: %w", r.ID, err)
		}
		r.ModifiedDate = parsed
	}
	return nil
}

// HasParticipant reports whether the given user is one of the room's two sides.
func (r *ChatRoom) HasParticipant(userID int64) bool {
	return userID != 0 && (userID == r.ChatUserID || userID == r.TargetUserID)
}

// RoleOf returns the viewer's role in this room.
func (r *ChatRoom) RoleOf(viewerID int64) Role {
	switch viewerID {
	case 0:
		return RoleNone
	case r.ChatUserID:
		return RoleChatUser
	case r.TargetUserID:
		return RoleTargetUser
	}
	return RoleNone
}

// Counterpart returns the participant that is not the viewer. Blank or
// placeholder avatar URLs are replaced with defaultAvatar.
func (r *ChatRoom) Counterpart(viewerID int64, defaultAvatar string) Participant {
	if viewerID == r.ChatUserID {
		return Participant{
			ID:       r.TargetUserID,
			Nickname: r.TargetUserNickname,
			ImageURL: ValidImageURL(r.TargetUserImageURL, defaultAvatar),
		}
	}
	return Participant{
		ID:       r.ChatUserID,
		Nickname: r.ChatUserNickname,
		ImageURL: ValidImageURL(r.ChatUserImageURL, defaultAvatar),
	}
}

// LastActivity is the room's recency: the last message's timestamp when any
// messages exist, otherwise the room's last-modified timestamp.
func (r *ChatRoom) LastActivity() time.Time {
	if n := len(r.ChatMessages); n > 0 {
		return r.ChatMessages[n-1].CreatedDate
	}
	return r.ModifiedDate
}

// LastMessage returns the newest message by timestamp, or nil when the room
// is empty.
func (r *ChatRoom) LastMessage() *ChatMessage {
	var last *ChatMessage
	for i := range r.ChatMessages {
		if last == nil || r.ChatMessages[i].CreatedDate.After(last.CreatedDate) {
			last = &r.ChatMessages[i]
		}
	}
	return last
}

// HasMessage reports whether a message with the given canonical id is
// already present.
func (r *ChatRoom) HasMessage(messageID int64) bool {
	for i := range r.ChatMessages {
		if r.ChatMessages[i].ID == messageID {
			return true
		}
	}
	return false
}

// ValidImageURL filters out missing and provider-default avatar URLs.
func ValidImageURL(imageURL, defaultURL string) string {
	if imageURL == "" || imageURL == "profile" || isProviderDefault(imageURL) {
		return defaultURL
	}
	return imageURL
}

func isProviderDefault(url string) bool {
	return strings.Contains(url, "kakaocdn.net") && strings.Contains(url, "default_profile")
}

// ParseWireTime parses the timestamp formats the backend is known to emit:
// RFC 3339 with or without sub-seconds, and a bare local datetime without a
// zone suffix.
func ParseWireTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
