// Package matchmaking implements backend server scoring and the periodic
// tick that redirects confirmed clients to the best-scoring backend.
package matchmaking

import (
	"context"
	"errors"
	"fmt"

	"github.com/breadpudding/matchmaking/internal/config"
)

// ErrServerFull is returned by Score when a backend has no open slots.
var ErrServerFull = errors.New("matchmaking: server full")

// Info is the live A2S_INFO-derived state of a backend server.
type Info struct {
	Players    uint8
	MaxPlayers uint8
	Bots       uint8
}

// Prober queries a backend's live player counts. It is the external A2S
// client collaborator; production wiring uses a real UDP A2S_INFO round
// trip, tests substitute a stub.
type Prober interface {
	Info(ctx context.Context, addr string, port uint16) (Info, error)
}

// Server is one configured backend, named per the config document.
type Server struct {
	Name    string
	Address string
	Port    uint16
}

// Endpoint renders the server's redirect target as "ip:port".
func (s Server) Endpoint() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// Scored pairs a backend with its latest probe result and score.
type Scored struct {
	Server Server
	Info   Info
	Score  int
}

// Slots returns the server's remaining capacity. It is not used by the
// redirect decision itself (see Score), only surfaced for operator
// visibility in the admin console.
func (sc Scored) Slots() int {
	remaining := int(sc.Info.MaxPlayers) - int(sc.Info.Players)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Score computes a backend's matchmaking score from its probed info.
// Servers at or above capacity are rejected outright. Busy-but-not-full
// servers are preferred (players added to score when at least 6 are
// present), servers whose configured capacity deviates from 24 are
// penalized, and bot presence is penalized.
func Score(info Info) (int, error) {
	if info.Players >= info.MaxPlayers {
		return 0, ErrServerFull
	}
	score := 0
	if info.Players >= 6 {
		score += int(info.Players)
	}
	score -= abs(int(info.MaxPlayers) - 24)
	score -= int(info.Bots)
	return score, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ServersFromConfig converts the config document's named server map into a
// slice of Server values. The slice follows map iteration order, which is
// not defined.
func ServersFromConfig(servers map[string]config.Server) []Server {
	out := make([]Server, 0, len(servers))
	for name, s := range servers {
		out = append(out, Server{Name: name, Address: s.Address, Port: s.Port})
	}
	return out
}
