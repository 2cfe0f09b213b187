// Package netchan implements the per-peer netchannel session: lifecycle
// state, the two subchannel reassemblers, and the outbound packet builder.
package netchan

import (
	"time"

	"github.com/breadpudding/matchmaking/internal/message"
)

// State is a client's lifecycle stage. States only advance:
// Fresh -> Confirmed -> Redirected. Downgrade is forbidden.
type State int

const (
	Fresh State = iota
	Confirmed
	Redirected
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Confirmed:
		return "confirmed"
	case Redirected:
		return "redirected"
	default:
		return "unknown"
	}
}

// Client is the session record for one UDP peer.
type Client struct {
	Joined   time.Time
	LastSeen time.Time
	Name     string
	Channels [2]NetChannel
	Queued   []message.Message
	State    State
	Seq      uint32 // outbound sequence counter, strictly increasing

	reliable byte
}

// NewClient returns a freshly created session for a just-seen endpoint.
func NewClient(now time.Time) *Client {
	return &Client{Joined: now, LastSeen: now, State: Fresh}
}

// Touch records now as the time of the most recently received datagram.
func (c *Client) Touch(now time.Time) { c.LastSeen = now }

// Idle reports whether more than timeout has elapsed since the client was
// last heard from. A non-positive timeout disables idle eviction.
func (c *Client) Idle(now time.Time, timeout time.Duration) bool {
	return timeout > 0 && now.Sub(c.LastSeen) > timeout
}

// Flip toggles reliable-state bit n. n must be in [0,7].
func (c *Client) Flip(n int) {
	if n < 0 || n > 7 {
		return
	}
	c.reliable ^= 1 << uint(n)
}

// Reliable returns the current reliable-state byte.
func (c *Client) Reliable() byte { return c.reliable }

// Advance moves the client to newState if doing so does not violate
// monotonicity (Fresh < Confirmed < Redirected). It reports whether the
// transition was applied.
func (c *Client) Advance(newState State) bool {
	if newState <= c.State {
		return false
	}
	c.State = newState
	return true
}

// Enqueue appends an outbound message to the client's pending queue,
// delivered one per serviced datagram (see Pop).
func (c *Client) Enqueue(m message.Message) {
	c.Queued = append(c.Queued, m)
}

// Pop removes and returns the oldest queued message, if any.
func (c *Client) Pop() (message.Message, bool) {
	if len(c.Queued) == 0 {
		return nil, false
	}
	m := c.Queued[0]
	c.Queued = c.Queued[1:]
	return m, true
}

// NextSeq increments and returns the outbound sequence number.
func (c *Client) NextSeq() uint32 {
	c.Seq++
	return c.Seq
}
