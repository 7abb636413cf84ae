package core

import "pawchat/models"

// UnreadFor counts the messages in the room the viewer has not read, using
// the read flag for the viewer's role. A sender's own flag is true from
// creation, so the viewer's sent messages never contribute. Server-declared
// unread counts are ignored; this derivation is the only trusted baseline.
func UnreadFor(room *models.ChatRoom, viewerID int64) int {
	role := room.RoleOf(viewerID)
	if role == models.RoleNone {
		return 0
	}
	unread := 0
	for i := range room.ChatMessages {
		msg := &room.ChatMessages[i]
		switch role {
		case models.RoleChatUser:
			if !msg.ChatUserRead {
				unread++
			}
		case models.RoleTargetUser:
			if !msg.TargetUserRead {
				unread++
			}
		}
	}
	return unread
}
