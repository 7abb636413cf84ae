package handlers

import (
	"net/http"

	"pawchat/core"
)

// RequireSession gates the chat routes on a logged-in viewer. The
// presentation layer drives login state through the session endpoints.
func RequireSession(session *core.Session) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !session.LoggedIn() {
				http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
