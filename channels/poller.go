// Package channels holds the three inbound adapters. Each one normalizes
// its transport's payloads into the canonical events the engine consumes,
// so transport quirks never reach core logic.
package channels

import (
	"context"

	"pawchat/core"
	"pawchat/models"
)

// Sink accepts canonical events. The engine implements it.
type Sink interface {
	Publish(ev models.Event)
}

// RoomLister is the backend query the poller needs.
type RoomLister interface {
	ListRoomsWithUnread(ctx context.Context) ([]models.ChatRoom, error)
}

// Poller is the on-demand full-list channel. Each refresh emits exactly one
// RoomListReplaced event.
type Poller struct {
	backend RoomLister
	session *core.Session
	sink    Sink
}

// NewPoller returns a poller bound to the viewer session.
func NewPoller(backend RoomLister, session *core.Session, sink Sink) *Poller {
	return &Poller{backend: backend, session: session, sink: sink}
}

// RefreshNow fetches the full room list and publishes it. The server already
// filters to the viewer's rooms; the list is re-filtered here as a safety
// net, keeping a room only when the viewer is one of its two participants.
func (p *Poller) RefreshNow(ctx context.Context) error {
	rooms, err := p.backend.ListRoomsWithUnread(ctx)
	if err != nil {
		return err
	}
	viewerID := p.session.ViewerID()
	filtered := make([]models.ChatRoom, 0, len(rooms))
	for _, room := range rooms {
		if room.HasParticipant(viewerID) {
			filtered = append(filtered, room)
		}
	}
	p.sink.Publish(models.RoomListReplaced{Rooms: filtered})
	return nil
}
