// Package admin implements a read-only operator console: a bcrypt-gated
// login that issues a short-lived JWT, and a websocket feed of live client
// and backend state for observability. It never injects protocol messages
// into the netchannel; it only observes the dispatcher's client table.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/breadpudding/matchmaking/internal/logging"
	"github.com/breadpudding/matchmaking/internal/matchmaking"
	"github.com/breadpudding/matchmaking/internal/netchan"
)

const sessionTTL = 12 * time.Hour

// ClientView is a client's observable state, as surfaced to the console.
type ClientView struct {
	Addr      string `json:"addr"`
	Name      string `json:"name"`
	State     string `json:"state"`
	JoinedAgo string `json:"joined_ago"`
}

// BackendView is a scored backend, as surfaced to the console.
type BackendView struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Slots   int    `json:"slots"`
	Score   int    `json:"score"`
}

// Snapshot is one console feed frame.
type Snapshot struct {
	Clients  []ClientView  `json:"clients"`
	Backends []BackendView `json:"backends"`
}

// State supplies the live data the console observes. *dispatch.Dispatcher
// and *matchmaking.Controller's last scored set are composed into this by
// the caller at startup.
type State interface {
	Clients() map[string]*netchan.Client
	LastScored() []matchmaking.Scored
}

// Server is the admin console's HTTP/WebSocket front end.
type Server struct {
	username     string
	passwordHash string
	jwtSecret    []byte
	state        State
	log          *logging.Logger
	upgrader     websocket.Upgrader
}

// New builds an admin console server. passwordHash is a bcrypt hash.
func New(username, passwordHash, jwtSecret string, state State) *Server {
	return &Server{
		username:     username,
		passwordHash: passwordHash,
		jwtSecret:    []byte(jwtSecret),
		state:        state,
		log:          logging.New("admin"),
		upgrader:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// HashPassword bcrypt-hashes a plaintext admin password for storage in the
// config document.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Handler returns the HTTP mux serving /login and /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	if req.Username != s.username {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(req.Password)); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": req.Username,
		"exp": time.Now().Add(sessionTTL).Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		s.log.Errorf("signing session token: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(loginResponse{Token: signed})
}

func (s *Server) verifyToken(raw string) bool {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	return err == nil && token.Valid
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.verifyToken(r.URL.Query().Get("token")) {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrading websocket: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go discardReads(conn, cancel) // drain client pings/close frames

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.snapshot()); err != nil {
				s.log.Warnf("writing console feed: %v", err)
				return
			}
		}
	}
}

func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) snapshot() Snapshot {
	now := time.Now()
	clients := s.state.Clients()
	views := make([]ClientView, 0, len(clients))
	for addr, c := range clients {
		views = append(views, ClientView{
			Addr:      addr,
			Name:      c.Name,
			State:     c.State.String(),
			JoinedAgo: humanize.RelTime(c.Joined, now, "ago", ""),
		})
	}

	scored := s.state.LastScored()
	backends := make([]BackendView, 0, len(scored))
	for _, sc := range scored {
		backends = append(backends, BackendView{
			Name:    sc.Server.Name,
			Address: sc.Server.Endpoint(),
			Slots:   sc.Slots(),
			Score:   sc.Score,
		})
	}

	return Snapshot{Clients: views, Backends: backends}
}
