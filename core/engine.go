package core

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"pawchat/models"
)

// ErrUnknownRoom is returned by commands that reference a room the registry
// does not hold.
var ErrUnknownRoom = errors.New("unknown chat room")

// Backend is the collaborator service the engine issues commands to.
type Backend interface {
	ListRoomsWithUnread(ctx context.Context) ([]models.ChatRoom, error)
	RoomMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error)
	MarkRead(ctx context.Context, roomID int64) error
	LeaveRoom(ctx context.Context, roomID int64) error
}

// Refresher triggers an authoritative full room-list fetch, which comes back
// through the event channel as a RoomListReplaced.
type Refresher interface {
	RefreshNow(ctx context.Context) error
}

// Subscriber registers a live-update topic for a room that just entered the
// registry.
type Subscriber interface {
	SubscribeRoom(roomID int64)
}

// Options tunes the engine's consistency backstops.
type Options struct {
	// DefaultAvatarURL replaces missing counterpart avatars.
	DefaultAvatarURL string
	// DeferredRefreshDelay is the wait before the full-list refresh that
	// backstops first-message delivery races. Not cancellable once scheduled.
	DeferredRefreshDelay time.Duration
	// CloseRefreshDelay is the wait before the list refresh that follows
	// closing a room.
	CloseRefreshDelay time.Duration
	// CommandTimeout bounds fire-and-forget backend calls.
	CommandTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.DeferredRefreshDelay == 0 {
		o.DeferredRefreshDelay = 300 * time.Millisecond
	}
	if o.CloseRefreshDelay == 0 {
		o.CloseRefreshDelay = 100 * time.Millisecond
	}
	if o.CommandTimeout == 0 {
		o.CommandTimeout = 10 * time.Second
	}
}

// Engine merges the canonical events from all three channels into the
// registry. Events are drained by a single goroutine in arrival order, so
// each handler only needs to be idempotent-safe under reordering: messages
// dedup by id, room creation is first-write-wins, and read state is
// optimistic-then-corrected.
type Engine struct {
	session  *Session
	registry *Registry
	open     *OpenRooms
	notifier *Notifier
	backend  Backend
	opts     Options

	events chan models.Event

	refresher  Refresher
	subscriber Subscriber

	panelOpen     atomic.Bool
	onPanelChange func(open bool)
	onLoginChange func(loggedIn bool)
}

// NewEngine wires the engine to its state and the collaborator backend.
func NewEngine(session *Session, registry *Registry, open *OpenRooms, notifier *Notifier, backend Backend, opts Options) *Engine {
	opts.withDefaults()
	return &Engine{
		session:  session,
		registry: registry,
		open:     open,
		notifier: notifier,
		backend:  backend,
		opts:     opts,
		events:   make(chan models.Event, 256),
	}
}

// SetRefresher attaches the polling adapter used for deferred refreshes.
func (e *Engine) SetRefresher(r Refresher) { e.refresher = r }

// SetSubscriber attaches the live-update adapter that registers per-room
// topics.
func (e *Engine) SetSubscriber(s Subscriber) { e.subscriber = s }

// OnPanelChange registers the hook invoked when the chat panel opens or
// closes.
func (e *Engine) OnPanelChange(fn func(open bool)) { e.onPanelChange = fn }

// OnLoginChange registers the hook invoked on login and logout.
func (e *Engine) OnLoginChange(fn func(loggedIn bool)) { e.onLoginChange = fn }

// Publish hands a canonical event to the engine. Adapters are producers;
// the buffered channel absorbs bursts.
func (e *Engine) Publish(ev models.Event) {
	e.events <- ev
}

// Run drains the event channel until the context is cancelled. All event
// application happens on this goroutine.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.Apply(ev)
		}
	}
}

// Apply applies one canonical event. Exposed so tests can drive the engine
// with a scripted event order.
func (e *Engine) Apply(ev models.Event) {
	switch ev := ev.(type) {
	case models.RoomListReplaced:
		e.applyRoomList(ev)
	case models.RoomCreated:
		e.applyRoomCreated(ev)
	case models.MessageAppended:
		e.applyMessage(ev)
	case models.ReadStateChanged:
		e.applyReadState(ev)
	default:
		log.Printf("engine: dropping event of unknown type %T", ev)
	}
}

// applyRoomList replaces the registry wholesale. Unread counts are
// recomputed from the per-message read flags; the server's own counts are
// not trusted.
func (e *Engine) applyRoomList(ev models.RoomListReplaced) {
	viewerID := e.session.ViewerID()
	rooms := make([]models.ChatRoom, 0, len(ev.Rooms))
	for _, room := range ev.Rooms {
		room.UnreadCount = UnreadFor(&room, viewerID)
		room.UnreadConfirmed = true
		rooms = append(rooms, room)
	}
	e.registry.ReplaceAll(rooms)
	if e.subscriber != nil {
		for _, room := range rooms {
			e.subscriber.SubscribeRoom(room.ID)
		}
	}
	e.notifier.Bump()
}

// applyRoomCreated inserts a newly announced room, first-write-wins. Rooms
// the viewer is not part of are ignored.
func (e *Engine) applyRoomCreated(ev models.RoomCreated) {
	room := ev.Room
	if !room.HasParticipant(e.session.ViewerID()) {
		log.Printf("engine: room %d does not involve viewer, ignored", room.ID)
		return
	}
	room.ChatMessages = nil
	room.UnreadCount = 0
	room.UnreadConfirmed = true
	if room.ModifiedDate.IsZero() {
		room.ModifiedDate = time.Now()
	}
	if !e.registry.Insert(room) {
		return
	}
	if e.subscriber != nil {
		e.subscriber.SubscribeRoom(room.ID)
	}
	e.notifier.Bump()
}

// applyMessage appends a message to its room, deduplicating by canonical id,
// and updates the unread count incrementally.
func (e *Engine) applyMessage(ev models.MessageAppended) {
	viewerID := e.session.ViewerID()
	senderSelf := ev.Message.SenderID == viewerID
	focused := e.open.IsFocused(ev.RoomID)

	var duplicate, first bool
	ok := e.registry.Mutate(ev.RoomID, func(room *models.ChatRoom) {
		if room.HasMessage(ev.Message.ID) {
			duplicate = true
			return
		}
		msg := ev.Message
		setCreationReadFlags(room, &msg, viewerID, focused)
		room.ChatMessages = append(room.ChatMessages, msg)
		first = len(room.ChatMessages) == 1

		switch {
		case senderSelf:
			// A sender has read their own message; count unchanged.
		case focused:
			room.UnreadCount = 0
		default:
			room.UnreadCount++
		}
		if !msg.CreatedDate.IsZero() {
			room.ModifiedDate = msg.CreatedDate
		}
	})
	if !ok {
		log.Printf("engine: message %d for unknown room %d, dropped", ev.Message.ID, ev.RoomID)
		return
	}
	if duplicate {
		return
	}

	if focused && !senderSelf {
		e.markReadAsync(ev.RoomID)
	}
	if first && !senderSelf && !focused {
		// First-message delivery order relative to the room-created
		// announcement is not guaranteed; schedule a full refresh as a
		// consistency backstop.
		e.scheduleRefresh(e.opts.DeferredRefreshDelay)
	}
	e.notifier.Bump()
}

// applyReadState zeroes the room's unread count optimistically and re-polls
// the authoritative list to correct any discrepancy. Unknown rooms are
// dropped silently.
func (e *Engine) applyReadState(ev models.ReadStateChanged) {
	ok := e.registry.Mutate(ev.RoomID, func(room *models.ChatRoom) {
		room.UnreadCount = 0
		room.UnreadConfirmed = false
	})
	if !ok {
		return
	}
	e.notifier.Bump()
	if e.refresher != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.opts.CommandTimeout)
			defer cancel()
			if err := e.refresher.RefreshNow(ctx); err != nil {
				log.Printf("engine: read-state refresh failed: %v", err)
			}
		}()
	}
}

// setCreationReadFlags applies the creation invariant: the sending side's
// flag is true, the receiving side's starts false unless the viewer is the
// receiver and has the room focused.
func setCreationReadFlags(room *models.ChatRoom, msg *models.ChatMessage, viewerID int64, focused bool) {
	senderIsChatUser := msg.SenderID == room.ChatUserID
	msg.ChatUserRead = senderIsChatUser
	msg.TargetUserRead = !senderIsChatUser
	if focused && msg.SenderID != viewerID {
		switch room.RoleOf(viewerID) {
		case models.RoleChatUser:
			msg.ChatUserRead = true
		case models.RoleTargetUser:
			msg.TargetUserRead = true
		}
	}
}

// OpenRoom focuses the room, zeroes its unread count optimistically, and
// fires a mark-read command at the backend.
func (e *Engine) OpenRoom(roomID int64) error {
	room, ok := e.registry.Get(roomID)
	if !ok {
		return ErrUnknownRoom
	}
	e.open.Open(room, e.session.ViewerID(), e.opts.DefaultAvatarURL)
	e.registry.Mutate(roomID, func(room *models.ChatRoom) {
		room.UnreadCount = 0
		room.UnreadConfirmed = false
	})
	e.markReadAsync(roomID)
	e.notifier.Bump()
	return nil
}

// CloseRoom stops tracking the room and schedules a short-delay list refresh
// so the closed room's unread state re-baselines from the server.
func (e *Engine) CloseRoom(roomID int64) {
	e.open.Close(roomID)
	e.scheduleRefresh(e.opts.CloseRefreshDelay)
}

// LeaveRoom issues the leave command and removes the room on success. A
// duplicate leave for an already-removed room is a no-op; the backend's
// idempotency is assumed, not re-verified.
func (e *Engine) LeaveRoom(ctx context.Context, roomID int64) error {
	if err := e.backend.LeaveRoom(ctx, roomID); err != nil {
		return err
	}
	e.registry.Remove(roomID)
	e.open.Close(roomID)
	e.notifier.Bump()
	return nil
}

// SetPanelOpen records the chat panel's visibility and notifies the
// lifecycle hook, which activates or deactivates the live-update channel.
func (e *Engine) SetPanelOpen(open bool) {
	if e.panelOpen.Swap(open) == open {
		return
	}
	if e.onPanelChange != nil {
		e.onPanelChange(open)
	}
}

// PanelOpen reports the chat panel's visibility.
func (e *Engine) PanelOpen() bool {
	return e.panelOpen.Load()
}

// Login installs a viewer and notifies the lifecycle hook, which starts the
// push connection for the new (loggedIn, viewer) pair.
func (e *Engine) Login(viewerID int64, nickname, token string) {
	e.session.Login(viewerID, nickname, token)
	log.Printf("engine: viewer %d (%s) logged in", viewerID, nickname)
	if e.onLoginChange != nil {
		e.onLoginChange(true)
	}
}

// Logout clears the viewer and all viewer-scoped state.
func (e *Engine) Logout() {
	e.session.Logout()
	e.open.Reset()
	e.registry.ReplaceAll(nil)
	e.notifier.Bump()
	if e.onLoginChange != nil {
		e.onLoginChange(false)
	}
}

// markReadAsync fires a mark-read command without waiting for the result.
// Failures surface in the log; the next poll corrects any divergence.
func (e *Engine) markReadAsync(roomID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.CommandTimeout)
		defer cancel()
		if err := e.backend.MarkRead(ctx, roomID); err != nil {
			log.Printf("engine: mark-read for room %d failed: %v", roomID, err)
		}
	}()
}

// scheduleRefresh runs a full-list refresh after the delay. Deliberately not
// cancellable; the result applies against whatever state exists when it
// completes.
func (e *Engine) scheduleRefresh(delay time.Duration) {
	time.AfterFunc(delay, func() {
		if e.refresher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), e.opts.CommandTimeout)
			defer cancel()
			if err := e.refresher.RefreshNow(ctx); err != nil {
				log.Printf("engine: deferred refresh failed: %v", err)
			}
		}
		e.notifier.Bump()
	})
}
