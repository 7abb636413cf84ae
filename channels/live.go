package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pawchat/core"
	"pawchat/models"
)

const (
	topicNewRoom    = "chat/new-room"
	topicReadStatus = "chat/read-status"
)

// frame is the wire format on the live-update channel: topic subscriptions
// and topic messages as JSON, plus heartbeats in both directions.
type frame struct {
	Op    string          `json:"op"` // "subscribe", "message", "ping", "pong"
	ID    string          `json:"id,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// LiveClient is the bidirectional channel: one websocket connection, active
// only while the chat panel is open and the viewer is logged in. It
// subscribes to the global room-created and read-state topics plus one
// message topic per registered room, and reconnects with a fixed delay.
type LiveClient struct {
	url            string
	session        *core.Session
	sink           Sink
	reconnectDelay time.Duration
	heartbeat      time.Duration
	dialer         *websocket.Dialer

	mu     sync.Mutex
	cancel context.CancelFunc
	conn   *websocket.Conn
	wlock  sync.Mutex // serializes websocket writes
	topics map[int64]bool
}

// NewLiveClient returns an inactive client for the given websocket URL.
func NewLiveClient(url string, session *core.Session, sink Sink, reconnectDelay, heartbeat time.Duration) *LiveClient {
	return &LiveClient{
		url:            url,
		session:        session,
		sink:           sink,
		reconnectDelay: reconnectDelay,
		heartbeat:      heartbeat,
		dialer:         websocket.DefaultDialer,
		topics:         make(map[int64]bool),
	}
}

// Activate starts the connection loop. Safe to call when already active.
func (l *LiveClient) Activate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.run(ctx)
}

// Deactivate tears the connection down, for panel close and logout. Room
// topics die with it; the engine re-subscribes every registry room on the
// next full-list refresh, so a later activation never replays rooms from a
// previous viewer or rooms since left.
func (l *LiveClient) Deactivate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.cancel = nil
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.topics = make(map[int64]bool)
}

// SubscribeRoom registers the room's message topic. Called by the engine
// whenever a new room enters the registry, including rooms announced on the
// new-room topic itself. Duplicate subscriptions are ignored; pending topics
// are replayed on every reconnect.
func (l *LiveClient) SubscribeRoom(roomID int64) {
	l.mu.Lock()
	if l.topics[roomID] {
		l.mu.Unlock()
		return
	}
	l.topics[roomID] = true
	conn := l.conn
	l.mu.Unlock()

	if conn != nil {
		l.sendSubscribe(conn, roomTopic(roomID))
	}
}

func (l *LiveClient) run(ctx context.Context) {
	for {
		if err := l.connectAndServe(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("live: connection lost: %v, reconnecting in %s", err, l.reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.reconnectDelay):
		}
	}
}

func (l *LiveClient) connectAndServe(ctx context.Context) error {
	header := map[string][]string{"X-Connection-Id": {uuid.NewString()}}
	if token := l.session.Token(); token != "" {
		header["Authorization"] = []string{"Bearer " + token}
	}
	conn, _, err := l.dialer.DialContext(ctx, l.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	l.mu.Lock()
	l.conn = conn
	pending := make([]int64, 0, len(l.topics))
	for roomID := range l.topics {
		pending = append(pending, roomID)
	}
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		if l.conn == conn {
			l.conn = nil
		}
		l.mu.Unlock()
	}()

	log.Printf("live: connected to %s", l.url)
	l.sendSubscribe(conn, topicNewRoom)
	l.sendSubscribe(conn, topicReadStatus)
	for _, roomID := range pending {
		l.sendSubscribe(conn, roomTopic(roomID))
	}

	// Outgoing heartbeat; the read deadline below covers the incoming one.
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go l.heartbeatLoop(hbCtx, conn)

	conn.SetReadDeadline(time.Now().Add(3 * l.heartbeat))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(3 * l.heartbeat))
		var fr frame
		if err := json.Unmarshal(data, &fr); err != nil {
			log.Printf("live: dropping malformed frame: %v", err)
			continue
		}
		l.dispatch(conn, fr)
	}
}

func (l *LiveClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.writeFrame(conn, frame{Op: "ping"}); err != nil {
				return
			}
		}
	}
}

// dispatch normalizes one inbound frame into a canonical event. Malformed
// bodies are dropped and logged; later frames still apply.
func (l *LiveClient) dispatch(conn *websocket.Conn, fr frame) {
	switch fr.Op {
	case "ping":
		l.writeFrame(conn, frame{Op: "pong"})
	case "pong":
		// Read deadline already reset.
	case "message":
		l.dispatchMessage(fr)
	}
}

func (l *LiveClient) dispatchMessage(fr frame) {
	switch {
	case fr.Topic == topicNewRoom:
		var room models.ChatRoom
		if err := json.Unmarshal(fr.Body, &room); err != nil {
			log.Printf("live: dropping malformed new-room payload: %v", err)
			return
		}
		l.sink.Publish(models.RoomCreated{Room: room})

	case fr.Topic == topicReadStatus:
		roomID, readBy, err := models.DecodeReadStatus(fr.Body)
		if err != nil {
			log.Printf("live: dropping malformed read-status payload: %v", err)
			return
		}
		l.sink.Publish(models.ReadStateChanged{RoomID: roomID, ReaderID: readBy})

	default:
		roomID, ok := parseRoomTopic(fr.Topic)
		if !ok {
			log.Printf("live: dropping frame for unknown topic %q", fr.Topic)
			return
		}
		var msg models.ChatMessage
		if err := json.Unmarshal(fr.Body, &msg); err != nil {
			log.Printf("live: dropping malformed message for room %d: %v", roomID, err)
			return
		}
		l.sink.Publish(models.MessageAppended{RoomID: roomID, Message: msg})
	}
}

func (l *LiveClient) sendSubscribe(conn *websocket.Conn, topic string) {
	err := l.writeFrame(conn, frame{Op: "subscribe", ID: uuid.NewString(), Topic: topic})
	if err != nil {
		log.Printf("live: subscribe %q failed: %v", topic, err)
	}
}

func (l *LiveClient) writeFrame(conn *websocket.Conn, fr frame) error {
	l.wlock.Lock()
	defer l.wlock.Unlock()
	return conn.WriteJSON(fr)
}

func roomTopic(roomID int64) string {
	return fmt.Sprintf("chat/%d/messages", roomID)
}

func parseRoomTopic(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, "chat/")
	if !ok {
		return 0, false
	}
	idPart, ok := strings.CutSuffix(rest, "/messages")
	if !ok {
		return 0, false
	}
	roomID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return roomID, true
}
