// Package handlers is the HTTP surface of the server: account registration
// and the post-login notification subscription. It replaces the original
// remote-invocation registry with plain request/response plus a server-push
// websocket.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/worthlabs/worth/internal/auth"
	"github.com/worthlabs/worth/internal/hub"
	"github.com/worthlabs/worth/internal/models"
	"github.com/worthlabs/worth/internal/protocol"
	"github.com/worthlabs/worth/internal/store"
	"github.com/worthlabs/worth/internal/ws"
)

// Handler serves /register and /notifications.
type Handler struct {
	Store    store.Store
	Hub      *hub.Hub
	Log      *zap.SugaredLogger
	upgrader websocket.Upgrader
}

// New builds the HTTP handler set.
func New(st store.Store, h *hub.Hub, log *zap.SugaredLogger) *Handler {
	return &Handler{
		Store: st,
		Hub:   h,
		Log:   log,
		upgrader: websocket.Upgrader{
			// The service runs inside a trusted network segment; clients are
			// native tools, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router mounts the endpoints.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.loggingMiddleware)
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/notifications", h.Notifications).Methods("GET")
	return r
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerResponse struct {
	Message string `json:"message"`
}

// Register creates a new account. The password never leaves this handler
// unhashed: a fresh salt is generated and only hash+salt reach the store.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !protocol.ValidName(req.Username) {
		http.Error(w, "username may contain only a-z, 0-9 and _", http.StatusBadRequest)
		return
	}
	if len(req.Password) < protocol.MinPasswordLen {
		http.Error(w, "password too short", http.StatusBadRequest)
		return
	}

	salt, err := auth.GenerateSalt()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	hash := auth.HashPassword(req.Password, salt)

	if err := h.Store.RegisterUser(req.Username, hash, salt); err != nil {
		if err == store.ErrUsernameTaken {
			http.Error(w, "username already exists", http.StatusConflict)
			return
		}
		h.Log.Errorw("registration failed", "user", req.Username, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(registerResponse{
		Message: "user " + req.Username + " registered",
	})
}

// Notifications upgrades to a websocket and registers the user's push
// channel with the hub. Only logged-in users may subscribe.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	statuses := h.Store.UserStatuses()
	status, ok := statuses[username]
	if !ok {
		http.Error(w, "unknown user", http.StatusNotFound)
		return
	}
	if status != models.Online {
		http.Error(w, "login first", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warnw("websocket upgrade failed", "user", username, "err", err)
		return
	}
	client := ws.NewClient(username, conn, h.Log)
	// Teardown must not remove a registration this client no longer owns:
	// on reconnect the new subscription replaces this one in the hub.
	client.OnClose = func() { h.Hub.UnregisterClient(username, client) }
	h.Hub.Register(username, client)
	go client.Run()
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.Log.Infow("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
