package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lostfound/apiserver/internal/services"
	"github.com/lostfound/apiserver/internal/store"
	"github.com/lostfound/apiserver/types"
)

type contextKey string

const contextSubjectKey contextKey = "sub"

// usernameFromContext returns the token subject placed there by the auth
// middleware.
func usernameFromContext(ctx context.Context) (string, error) {
	value := ctx.Value(contextSubjectKey)
	subject, ok := value.(string)
	if !ok {
		return "", errors.New("missing subject")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("invalid subject")
	}
	return subject, nil
}

// currentUser resolves the token subject to a live user record. A token
// whose subject no longer exists is treated as unauthenticated. On failure
// the error response has already been written and ok is false.
func currentUser(w http.ResponseWriter, r *http.Request, userService *services.UserService) (types.User, bool) {
	username, err := usernameFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return types.User{}, false
	}

	user, err := userService.GetByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return types.User{}, false
		}
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return types.User{}, false
	}
	return user, true
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
