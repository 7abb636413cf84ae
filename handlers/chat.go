// Package handlers is the HTTP surface the presentation layer consumes: the
// ordered room list with previews and unread counts, the open/focused set,
// the render-trigger counter, and the commands that flow the other way.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"pawchat/core"
	"pawchat/models"
)

// ChatAPI exposes the chat core over HTTP.
type ChatAPI struct {
	engine        *core.Engine
	registry      *core.Registry
	open          *core.OpenRooms
	notifier      *core.Notifier
	session       *core.Session
	defaultAvatar string
}

// NewChatAPI wires the API to the core.
func NewChatAPI(engine *core.Engine, registry *core.Registry, open *core.OpenRooms, notifier *core.Notifier, session *core.Session, defaultAvatar string) *ChatAPI {
	return &ChatAPI{
		engine:        engine,
		registry:      registry,
		open:          open,
		notifier:      notifier,
		session:       session,
		defaultAvatar: defaultAvatar,
	}
}

// Register mounts all routes on the router.
func (a *ChatAPI) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/session", a.StartSession).Methods("POST")
	r.HandleFunc("/api/v1/session", a.EndSession).Methods("DELETE")

	chat := r.PathPrefix("/api/v1/chat").Subrouter()
	chat.Use(RequireSession(a.session))
	chat.HandleFunc("/rooms", a.ListRooms).Methods("GET")
	chat.HandleFunc("/rooms/{id}/open", a.OpenRoom).Methods("POST")
	chat.HandleFunc("/rooms/{id}/close", a.CloseRoom).Methods("POST")
	chat.HandleFunc("/rooms/{id}/leave", a.LeaveRoom).Methods("POST")
	chat.HandleFunc("/panel", a.SetPanel).Methods("POST")
	chat.HandleFunc("/state", a.State).Methods("GET")
	chat.HandleFunc("/updates", a.Updates).Methods("GET")
}

type roomView struct {
	ID              int64              `json:"id"`
	Counterpart     models.Participant `json:"counterpart"`
	LastMessage     string             `json:"last_message"`
	LastMessageTime string             `json:"last_message_time"`
	UnreadCount     int                `json:"unread_count"`
	UnreadConfirmed bool               `json:"unread_confirmed"`
	Open            bool               `json:"open"`
	Focused         bool               `json:"focused"`
}

// ListRooms returns the rooms ordered by most-recent activity.
func (a *ChatAPI) ListRooms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	viewerID := a.session.ViewerID()
	rooms := a.registry.List()
	views := make([]roomView, 0, len(rooms))
	for i := range rooms {
		room := &rooms[i]
		views = append(views, roomView{
			ID:              room.ID,
			Counterpart:     room.Counterpart(viewerID, a.defaultAvatar),
			LastMessage:     FormatLastMessage(room),
			LastMessageTime: FormatTime(room.LastActivity(), time.Now()),
			UnreadCount:     room.UnreadCount,
			UnreadConfirmed: room.UnreadConfirmed,
			Open:            a.open.IsOpen(room.ID),
			Focused:         a.open.IsFocused(room.ID),
		})
	}
	json.NewEncoder(w).Encode(map[string]any{"data": views})
}

// State returns the render-trigger counter, the panel flag, and the tracked
// open rooms.
func (a *ChatAPI) State(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"render_count": a.notifier.Count(),
		"panel_open":   a.engine.PanelOpen(),
		"open_rooms":   a.open.Tracked(),
		"viewer":       a.session.Nickname(),
	})
}

const longPollTimeout = 25 * time.Second

// Updates blocks until the render counter moves past the caller's last seen
// value ("since" query parameter), then returns the current value. A
// long-poll alternative to re-fetching /state; the timeout returns the
// unchanged counter and the caller polls again.
func (a *ChatAPI) Updates(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	since, _ := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)

	if a.notifier.Count() <= since {
		timeout := time.NewTimer(longPollTimeout)
		defer timeout.Stop()
		// Signals coalesce, so a wakeup may predate the caller's snapshot;
		// re-check the counter until it actually moves.
		waiting := true
		for waiting && a.notifier.Count() <= since {
			select {
			case <-a.notifier.Wait():
			case <-timeout.C:
				waiting = false
			case <-r.Context().Done():
				return
			}
		}
	}
	json.NewEncoder(w).Encode(map[string]uint64{"render_count": a.notifier.Count()})
}

// OpenRoom focuses a room on behalf of the presentation layer.
func (a *ChatAPI) OpenRoom(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	roomID, err := roomIDVar(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid room ID"}`, http.StatusBadRequest)
		return
	}
	if err := a.engine.OpenRoom(roomID); err != nil {
		if errors.Is(err, core.ErrUnknownRoom) {
			http.Error(w, `{"error": "Room not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error": "Failed to open room"}`, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// CloseRoom stops rendering a room.
func (a *ChatAPI) CloseRoom(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	roomID, err := roomIDVar(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid room ID"}`, http.StatusBadRequest)
		return
	}
	a.engine.CloseRoom(roomID)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// LeaveRoom issues the leave command. Backend failure surfaces as an error
// the UI shows in an alert; registry state is untouched in that case.
func (a *ChatAPI) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	roomID, err := roomIDVar(r)
	if err != nil {
		http.Error(w, `{"error": "Invalid room ID"}`, http.StatusBadRequest)
		return
	}
	if err := a.engine.LeaveRoom(r.Context(), roomID); err != nil {
		http.Error(w, `{"error": "Failed to leave room"}`, http.StatusBadGateway)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// SetPanel toggles the chat panel, which drives the live channel lifecycle.
func (a *ChatAPI) SetPanel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		Open bool `json:"open"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	a.engine.SetPanelOpen(req.Open)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// StartSession installs the viewer the presentation layer authenticated.
func (a *ChatAPI) StartSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var req struct {
		MemberID int64  `json:"member_id"`
		Nickname string `json:"nickname"`
		Token    string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MemberID == 0 {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}
	a.engine.Login(req.MemberID, req.Nickname, req.Token)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// EndSession logs the viewer out and clears viewer-scoped state.
func (a *ChatAPI) EndSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	a.engine.Logout()
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func roomIDVar(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// FormatLastMessage renders the room-list preview line.
func FormatLastMessage(room *models.ChatRoom) string {
	if len(room.ChatMessages) == 0 {
		return "A new chat room has been opened."
	}
	last := room.LastMessage()
	if last == nil || last.Content == "" {
		return "No new messages."
	}
	return last.Content
}

// FormatTime renders a room-list timestamp: clock time for today, month/day
// otherwise.
func FormatTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		hour := t.Hour() % 12
		if hour == 0 {
			hour = 12
		}
		suffix := "AM"
		if t.Hour() >= 12 {
			suffix = "PM"
		}
		return fmt.Sprintf("%d:%02d %s", hour, t.Minute(), suffix)
	}
	return fmt.Sprintf("%d/%d", int(t.Month()), t.Day())
}
