package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pawchat/models"
)

type fakeBackend struct {
	mu         sync.Mutex
	markedRead []int64
	markReadCh chan int64
	left       []int64
	leaveErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{markReadCh: make(chan int64, 8)}
}

func (f *fakeBackend) ListRoomsWithUnread(ctx context.Context) ([]models.ChatRoom, error) {
	return nil, nil
}

func (f *fakeBackend) RoomMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error) {
	return nil, nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, roomID int64) error {
	f.mu.Lock()
	f.markedRead = append(f.markedRead, roomID)
	f.mu.Unlock()
	f.markReadCh <- roomID
	return nil
}

func (f *fakeBackend) LeaveRoom(ctx context.Context, roomID int64) error {
	if f.leaveErr != nil {
		return f.leaveErr
	}
	f.mu.Lock()
	f.left = append(f.left, roomID)
	f.mu.Unlock()
	return nil
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	ch    chan struct{}
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{ch: make(chan struct{}, 8)}
}

func (f *fakeRefresher) RefreshNow(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	f.ch <- struct{}{}
	return nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubscriber struct {
	mu    sync.Mutex
	rooms []int64
}

func (f *fakeSubscriber) SubscribeRoom(roomID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, roomID)
}

func (f *fakeSubscriber) subscribed() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.rooms...)
}

type engineFixture struct {
	engine     *Engine
	session    *Session
	registry   *Registry
	open       *OpenRooms
	notifier   *Notifier
	backend    *fakeBackend
	refresher  *fakeRefresher
	subscriber *fakeSubscriber
}

// viewer 20 is the target user of every test room.
const viewerID = int64(20)

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		session:    &Session{},
		registry:   NewRegistry(),
		open:       NewOpenRooms(),
		notifier:   NewNotifier(),
		backend:    newFakeBackend(),
		refresher:  newFakeRefresher(),
		subscriber: &fakeSubscriber{},
	}
	f.session.Login(viewerID, "bob", "token")
	f.engine = NewEngine(f.session, f.registry, f.open, f.notifier, f.backend, Options{
		DeferredRefreshDelay: 20 * time.Millisecond,
		CloseRefreshDelay:    10 * time.Millisecond,
	})
	f.engine.SetRefresher(f.refresher)
	f.engine.SetSubscriber(f.subscriber)
	return f
}

func testRoom(id int64) models.ChatRoom {
	return models.ChatRoom{
		ID:                 id,
		ChatUserID:         10,
		ChatUserNickname:   "alice",
		TargetUserID:       viewerID,
		TargetUserNickname: "bob",
		ModifiedDate:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		UnreadConfirmed:    true,
	}
}

func testMessage(id, senderID int64, at time.Time) models.ChatMessage {
	return models.ChatMessage{ID: id, SenderID: senderID, Content: "hello", CreatedDate: at}
}

func waitFor(t *testing.T, ch <-chan int64, want int64) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got call for room %d, want %d", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for call for room %d", want)
	}
}

func TestDuplicateMessagesAppendOnce(t *testing.T) {
	f := newEngineFixture(t)
	f.registry.Insert(testRoom(1))

	at := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	msg := testMessage(100, 10, at)
	f.engine.Apply(models.MessageAppended{RoomID: 1, Message: msg})
	f.engine.Apply(models.MessageAppended{RoomID: 1, Message: msg})
	f.engine.Apply(models.MessageAppended{RoomID: 1, Message: msg})

	room, _ := f.registry.Get(1)
	if len(room.ChatMessages) != 1 {
		t.Fatalf("got %d messages, want 1", len(room.ChatMessages))
	}
	if room.UnreadCount != 1 {
		t.Errorf("unread count = %d, want 1 (duplicates must not accrue)", room.UnreadCount)
	}
}

func TestViewerOwnMessageDoesNotAccrue(t *testing.T) {
	f := newEngineFixture(t)
	f.registry.Insert(testRoom(1))
	if err := f.engine.OpenRoom(1); err != nil {
		t.Fatalf("OpenRoom() error = %v", err)
	}
	waitFor(t, f.backend.markReadCh, 1)

	at := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	f.engine.Apply(models.MessageAppended{RoomID: 1, Message: testMessage(100, viewerID, at)})

	room, _ := f.registry.Get(1)
	if room.UnreadCount != 0 {
		t.Errorf("unread count = %d, want 0 after viewer's own message", room.UnreadCount)
	}
	if !room.ChatMessages[0].TargetUserRead {
		t.Errorf("sender's own read flag must be true at creation")
	}
}

func TestClosedRoomAccruesPerMessage(t *testing.T) {
	f := newEngineFixture(t)
	room := testRoom(1)
	room.ChatMessages = []models.ChatMessage{testMessage(99, 10, room.ModifiedDate)}
	f.registry.Insert(room)

	base := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	for i := int64(0); i < 3; i++ {
		msg := testMessage(100+i, 10, base.Add(time.Duration(i)*time.Minute))
		f.engine.Apply(models.MessageAppended{RoomID: 1, Message: msg})
	}

	got, _ := f.registry.Get(1)
	if got.UnreadCount != 3 {
		t.Errorf("unread count = %d, want 3", got.UnreadCount)
	}
	if !got.ModifiedDate.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("room recency not bumped to last message time")
	}
}

func TestFocusedRoomAutoMarksRead(t *testing.T) {
	f := newEngineFixture(t)
	f.registry.Insert(testRoom(1))
	if err := f.engine.OpenRoom(1); err != nil {
		t.Fatalf("OpenRoom() error = %v", err)
	}
	waitFor(t, f.backend.markReadCh, 1)

	at := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	f.engine.Apply(models.MessageAppended{RoomID: 1, Message: testMessage(100, 10, at)})

	room, _ := f.registry.Get(1)
	if room.UnreadCount != 0 {
		t.Errorf("unread count = %d, want 0 for focused room", room.UnreadCount)
	}
	if !room.ChatMessages[0].TargetUserRead {
		t.Errorf("receiver's flag must be true when the room is focused")
	}
	waitFor(t, f.backend.markReadCh, 1)
}

func TestMessageForUnknownRoomDropped(t *testing.T) {
	f := newEngineFixture(t)
	at := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	f.engine.Apply(models.MessageAppended{RoomID: 7, Message: testMessage(100, 10, at)})
	if f.registry.Len() != 0 {
		t.Errorf("registry should stay empty")
	}
}

func TestFirstMessageSchedulesDeferredRefresh(t *testing.T) {
	f := newEngineFixture(t)
	f.registry.Insert(testRoom(1))

	at := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	f.engine.Apply(models.MessageAppended{RoomID: 1, Message: testMessage(100, 10, at)})

	select {
	case <-f.refresher.ch:
	case <-time.After(time.Second):
		t.Fatalf("deferred refresh never fired")
	}
}

func TestSecondMessageDoesNotScheduleRefresh(t *testing.T) {
	f := newEngineFixture(t)
	room := testRoom(1)
	room.ChatMessages = []models.ChatMessage{testMessage(99, 10, room.ModifiedDate)}
	f.registry.Insert(room)

	at := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	f.engine.Apply(models.MessageAppended{RoomID: 1, Message: testMessage(100, 10, at)})

	time.Sleep(60 * time.Millisecond)
	if n := f.refresher.callCount(); n != 0 {
		t.Errorf("refresher called %d times, want 0", n)
	}
}

func TestReadStateChangedZeroesImmediately(t *testing.T) {
	f := newEngineFixture(t)
	room := testRoom(1)
	room.UnreadCount = 5
	f.registry.Insert(room)

	f.engine.Apply(models.ReadStateChanged{RoomID: 1, ReaderID: 10})

	got, _ := f.registry.Get(1)
	if got.UnreadCount != 0 {
		t.Errorf("unread count = %d, want 0 immediately after read-state event", got.UnreadCount)
	}
	if got.UnreadConfirmed {
		t.Errorf("optimistic zero must be tagged unconfirmed")
	}

	// The authoritative list is re-polled to correct any discrepancy.
	select {
	case <-f.refresher.ch:
	case <-time.After(time.Second):
		t.Fatalf("read-state refresh never fired")
	}
}

func TestReadStateForUnknownRoomDropped(t *testing.T) {
	f := newEngineFixture(t)
	before := f.notifier.Count()
	f.engine.Apply(models.ReadStateChanged{RoomID: 9, ReaderID: 10})
	if f.notifier.Count() != before {
		t.Errorf("dropped event must not trigger a render")
	}
	time.Sleep(30 * time.Millisecond)
	if n := f.refresher.callCount(); n != 0 {
		t.Errorf("dropped event must not re-poll, got %d calls", n)
	}
}

func TestRoomCreatedIgnoresStrangers(t *testing.T) {
	f := newEngineFixture(t)
	room := models.ChatRoom{ID: 5, ChatUserID: 70, TargetUserID: 80}
	f.engine.Apply(models.RoomCreated{Room: room})
	if f.registry.Len() != 0 {
		t.Errorf("room without the viewer must be ignored")
	}
}

func TestRoomCreatedFirstWriteWins(t *testing.T) {
	f := newEngineFixture(t)
	first := testRoom(5)
	first.ChatUserNickname = "alice"
	second := testRoom(5)
	second.ChatUserNickname = "impostor"

	f.engine.Apply(models.RoomCreated{Room: first})
	f.engine.Apply(models.RoomCreated{Room: second})

	got, _ := f.registry.Get(5)
	if got.ChatUserNickname != "alice" {
		t.Errorf("second create overwrote the first")
	}
	if subs := f.subscriber.subscribed(); len(subs) != 1 || subs[0] != 5 {
		t.Errorf("subscribed rooms = %v, want [5]", subs)
	}
}

func TestRoomCreatedStartsEmptyAndUnread(t *testing.T) {
	f := newEngineFixture(t)
	room := testRoom(5)
	room.ChatMessages = []models.ChatMessage{testMessage(1, 10, room.ModifiedDate)}
	room.UnreadCount = 9

	f.engine.Apply(models.RoomCreated{Room: room})

	got, _ := f.registry.Get(5)
	if len(got.ChatMessages) != 0 {
		t.Errorf("created room must start with an empty message list")
	}
	if got.UnreadCount != 0 {
		t.Errorf("created room must start with unread 0, got %d", got.UnreadCount)
	}
}

func TestRoomListReplacedRecountsUnread(t *testing.T) {
	f := newEngineFixture(t)
	at := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	room := testRoom(42)
	room.UnreadCount = 99 // server-declared count, must not be trusted
	room.ChatMessages = []models.ChatMessage{
		{ID: 1, SenderID: 10, Content: "hi", CreatedDate: at, ChatUserRead: true, TargetUserRead: false},
		{ID: 2, SenderID: viewerID, Content: "yo", CreatedDate: at.Add(time.Minute), ChatUserRead: false, TargetUserRead: true},
	}

	f.engine.Apply(models.RoomListReplaced{Rooms: []models.ChatRoom{room}})

	got, _ := f.registry.Get(42)
	if got.UnreadCount != 1 {
		t.Errorf("unread count = %d, want 1 (recomputed from flags)", got.UnreadCount)
	}
	if !got.UnreadConfirmed {
		t.Errorf("full-list baseline must be confirmed")
	}
	if subs := f.subscriber.subscribed(); len(subs) != 1 || subs[0] != 42 {
		t.Errorf("replace must subscribe new rooms, got %v", subs)
	}
}

func TestRoomListReplacedDropsMissingRooms(t *testing.T) {
	f := newEngineFixture(t)
	f.registry.Insert(testRoom(1))
	f.registry.Insert(testRoom(2))

	f.engine.Apply(models.RoomListReplaced{Rooms: []models.ChatRoom{testRoom(2)}})

	if f.registry.Has(1) {
		t.Errorf("room absent from the full list must be removed")
	}
	if !f.registry.Has(2) {
		t.Errorf("room present in the full list must survive")
	}
}

func TestOpenRoomZeroesOptimistically(t *testing.T) {
	f := newEngineFixture(t)
	room := testRoom(1)
	room.UnreadCount = 4
	f.registry.Insert(room)

	if err := f.engine.OpenRoom(1); err != nil {
		t.Fatalf("OpenRoom() error = %v", err)
	}

	got, _ := f.registry.Get(1)
	if got.UnreadCount != 0 {
		t.Errorf("unread count = %d, want 0 after open", got.UnreadCount)
	}
	if got.UnreadConfirmed {
		t.Errorf("open-room zero is optimistic, must be unconfirmed")
	}
	if !f.open.IsFocused(1) {
		t.Errorf("opened room must be focused")
	}
	waitFor(t, f.backend.markReadCh, 1)
}

func TestOpenRoomUnknown(t *testing.T) {
	f := newEngineFixture(t)
	if err := f.engine.OpenRoom(404); !errors.Is(err, ErrUnknownRoom) {
		t.Fatalf("OpenRoom() error = %v, want ErrUnknownRoom", err)
	}
}

func TestLeaveRoomRemovesOnSuccess(t *testing.T) {
	f := newEngineFixture(t)
	f.registry.Insert(testRoom(1))

	if err := f.engine.LeaveRoom(context.Background(), 1); err != nil {
		t.Fatalf("LeaveRoom() error = %v", err)
	}
	if f.registry.Has(1) {
		t.Errorf("room must be removed immediately on success")
	}

	// Leaving again is a no-op; the backend's idempotency is assumed.
	if err := f.engine.LeaveRoom(context.Background(), 1); err != nil {
		t.Fatalf("duplicate LeaveRoom() error = %v", err)
	}
}

func TestLeaveRoomKeepsStateOnFailure(t *testing.T) {
	f := newEngineFixture(t)
	f.registry.Insert(testRoom(1))
	f.backend.leaveErr = errors.New("boom")

	if err := f.engine.LeaveRoom(context.Background(), 1); err == nil {
		t.Fatalf("LeaveRoom() should surface the backend error")
	}
	if !f.registry.Has(1) {
		t.Errorf("failed leave must not corrupt registry state")
	}
}

func TestLogoutClearsViewerState(t *testing.T) {
	f := newEngineFixture(t)
	f.registry.Insert(testRoom(1))
	if err := f.engine.OpenRoom(1); err != nil {
		t.Fatalf("OpenRoom() error = %v", err)
	}
	waitFor(t, f.backend.markReadCh, 1)

	f.engine.Logout()

	if f.registry.Len() != 0 {
		t.Errorf("registry must be cleared on logout")
	}
	if len(f.open.Tracked()) != 0 {
		t.Errorf("open rooms must be cleared on logout")
	}
	if f.session.LoggedIn() {
		t.Errorf("session must be logged out")
	}
}

func TestEventsBumpRenderCounter(t *testing.T) {
	f := newEngineFixture(t)
	before := f.notifier.Count()
	f.engine.Apply(models.RoomCreated{Room: testRoom(1)})
	at := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	f.engine.Apply(models.MessageAppended{RoomID: 1, Message: testMessage(100, 10, at)})
	if f.notifier.Count() <= before {
		t.Errorf("render counter must increase on out-of-band mutations")
	}
}
