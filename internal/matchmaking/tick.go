package matchmaking

import (
	"context"
	"sort"

	"github.com/breadpudding/matchmaking/internal/logging"
	"github.com/breadpudding/matchmaking/internal/message"
	"github.com/breadpudding/matchmaking/internal/netchan"
)

// ClientTable is the subset of the dispatcher the controller needs: the
// live peer table, keyed by endpoint.
type ClientTable interface {
	Clients() map[string]*netchan.Client
}

// RedirectRecorder observes dispatched redirects for audit purposes.
type RedirectRecorder interface {
	RecordRedirect(addr, backend string, score int)
}

type noopRedirectRecorder struct{}

func (noopRedirectRecorder) RecordRedirect(string, string, int) {}

// Controller runs the periodic matchmaking tick: probe configured
// backends, score and sort them, and enqueue redirects to confirmed
// clients. Each Tick probes every backend itself, synchronously and one
// after another; it takes no probe results from the caller.
type Controller struct {
	servers    []Server
	prober     Prober
	log        *logging.Logger
	recorder   RedirectRecorder
	lastScored []Scored
}

// NewController builds a controller over the given configured backends.
func NewController(servers []Server, prober Prober) *Controller {
	return &Controller{
		servers:  servers,
		prober:   prober,
		log:      logging.New("matchmaking"),
		recorder: noopRedirectRecorder{},
	}
}

// SetRecorder installs an audit recorder for dispatched redirects. Pass nil
// to disable.
func (c *Controller) SetRecorder(r RedirectRecorder) {
	if r == nil {
		r = noopRedirectRecorder{}
	}
	c.recorder = r
}

// Tick runs one matchmaking pass against table. The event loop invokes it
// once at least one second of wall clock has passed since the previous tick.
func (c *Controller) Tick(ctx context.Context, table ClientTable) {
	candidates := c.scoreBackends(ctx)
	c.lastScored = candidates
	if len(candidates) == 0 {
		c.log.Warnf("no candidate backend servers available this tick")
		return
	}

	best := candidates[0]

	for _, addr := range orderedConfirmedAddrs(table.Clients()) {
		client := table.Clients()[addr]
		if client.State != netchan.Confirmed {
			continue
		}
		client.Enqueue(message.SvcStringCmd{Command: "redirect " + best.Server.Endpoint()})
		client.Advance(netchan.Redirected)
		c.recorder.RecordRedirect(addr, best.Server.Endpoint(), best.Score)
	}
}

func (c *Controller) scoreBackends(ctx context.Context) []Scored {
	var scored []Scored
	for _, srv := range c.servers {
		info, err := c.prober.Info(ctx, srv.Address, srv.Port)
		if err != nil {
			c.log.Warnf("probing %s (%s): %v", srv.Name, srv.Endpoint(), err)
			continue
		}
		score, err := Score(info)
		if err != nil {
			continue
		}
		scored = append(scored, Scored{Server: srv, Info: info, Score: score})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return scored
}

// LastScored returns the backend scoring from the most recent tick, for
// operator visibility (e.g. the admin console).
func (c *Controller) LastScored() []Scored {
	return c.lastScored
}

// orderedConfirmedAddrs sorts client addresses by joined time descending,
// so the most recently joined client is considered first for the next
// available redirect slot, per the controller's stated ordering policy.
func orderedConfirmedAddrs(clients map[string]*netchan.Client) []string {
	out := make([]string, 0, len(clients))
	for addr := range clients {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return clients[out[i]].Joined.After(clients[out[j]].Joined)
	})
	return out
}
