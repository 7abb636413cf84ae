package channels

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"pawchat/core"
	"pawchat/models"
)

// MessageFetcher is the backend query the push listener uses to probe
// authoritative message state.
type MessageFetcher interface {
	RoomMessages(ctx context.Context, roomID int64) ([]models.ChatMessage, error)
}

// PushListener consumes the backend's one-way push stream (server-sent
// events). Push payloads do not reliably carry full message content, so a
// recognized event is treated purely as a signal to re-fetch authoritative
// state, never as data to merge.
type PushListener struct {
	connectURL string
	session    *core.Session
	open       *core.OpenRooms
	messages   MessageFetcher
	refresher  core.Refresher
	notifier   *core.Notifier

	client     *http.Client
	retryDelay time.Duration
	bumpDelay  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPushListener returns a listener for the given SSE endpoint.
func NewPushListener(connectURL string, session *core.Session, open *core.OpenRooms, messages MessageFetcher, refresher core.Refresher, notifier *core.Notifier, retryDelay time.Duration) *PushListener {
	return &PushListener{
		connectURL: connectURL,
		session:    session,
		open:       open,
		messages:   messages,
		refresher:  refresher,
		notifier:   notifier,
		client:     &http.Client{},
		retryDelay: retryDelay,
		bumpDelay:  300 * time.Millisecond,
	}
}

// Start opens one connection for the current (loggedIn, viewer) pair,
// replacing any previous connection. Called again on every viewer change.
func (l *PushListener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if !l.session.LoggedIn() {
		return
	}
	viewerID := l.session.ViewerID()
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.run(ctx, viewerID)
}

// Stop tears the connection down, for logout and shutdown.
func (l *PushListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// run reconnects with a fixed retry delay, like a browser EventSource.
func (l *PushListener) run(ctx context.Context, viewerID int64) {
	for {
		if err := l.consume(ctx, viewerID); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("push: stream closed: %v, retrying in %s", err, l.retryDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *PushListener) consume(ctx context.Context, viewerID int64) error {
	url := l.connectURL + "?userId=" + strconv.FormatInt(viewerID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusErr(resp.StatusCode)
	}
	log.Printf("push: connected for user %d", viewerID)

	// SSE framing: "data:" lines accumulate until a blank line ends the
	// event. Event names are irrelevant here; every alias is dispatched the
	// same way.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var data []byte
	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(bytes.TrimSpace(line)) == 0:
			if len(data) > 0 {
				l.handleEvent(ctx, data, viewerID)
				data = nil
			}
		case bytes.HasPrefix(line, []byte("data:")):
			// Multiple data lines in one event join with a newline.
			payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, payload...)
		}
	}
	return scanner.Err()
}

// handleEvent reacts to a single push payload. Malformed payloads are
// dropped and logged; processing continues.
func (l *PushListener) handleEvent(ctx context.Context, data []byte, viewerID int64) {
	ev, err := models.DecodePushEvent(data)
	if err != nil {
		log.Printf("push: dropping malformed event: %v", err)
		return
	}
	if !ev.IsNewMessage() {
		return
	}
	// A push for the viewer's own message carries no new information.
	if ev.SenderID == viewerID {
		return
	}
	// The focused room already handles its messages through the live channel.
	if l.open.IsFocused(ev.RoomID) {
		return
	}

	// Probe the authoritative message list; a single message means this was
	// the room's first, where delivery timing races the room announcement,
	// so re-baseline the whole registry.
	msgs, err := l.messages.RoomMessages(ctx, ev.RoomID)
	if err != nil {
		log.Printf("push: message probe for room %d failed: %v", ev.RoomID, err)
	} else if len(msgs) == 1 && !l.open.IsOpen(ev.RoomID) {
		if err := l.refresher.RefreshNow(ctx); err != nil {
			log.Printf("push: refresh after first message failed: %v", err)
		}
	}

	// Render backstop shortly after the event, whatever the probe found.
	time.AfterFunc(l.bumpDelay, l.notifier.Bump)
}

type statusErr int

func (e statusErr) Error() string {
	return "unexpected status " + strconv.Itoa(int(e))
}
