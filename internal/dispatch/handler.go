package dispatch

import (
	"github.com/breadpudding/matchmaking/internal/message"
	"github.com/breadpudding/matchmaking/internal/netchan"
)

const favoritesConnectMethod = "serverbrowser_favorites"

// handleMessages applies the per-peer message rules to inbound and returns
// the reply list: NET_SET_CONVARS may confirm the client or queue a policy
// disconnect, NET_DISCONNECT may tear down the session, and any other
// inbound message requires no response. At most one queued message (e.g. a
// matchmaking redirect) is delivered per serviced datagram.
func (d *Dispatcher) handleMessages(addr string, client *netchan.Client, inbound []message.Message) []message.Message {
	var reply []message.Message

	for _, m := range inbound {
		switch v := m.(type) {
		case message.NetDisconnect:
			d.log.Printf("%s: disconnect: %s", addr, v.Reason)
			d.deleteClient(addr)
		case message.NetSetConVars:
			reply = append(reply, d.handleConVars(addr, client, v)...)
		default:
			// No response required for any other inbound message type.
		}
	}

	if queued, ok := client.Pop(); ok {
		reply = append(reply, queued)
	}

	return reply
}

func (d *Dispatcher) handleConVars(addr string, client *netchan.Client, cv message.NetSetConVars) []message.Message {
	if name, ok := cv.ConVars["name"]; ok {
		client.Name = name
		d.log.Printf("%s: join as %q", addr, name)
	}

	if cv.ConVars["cl_connectmethod"] == favoritesConnectMethod {
		client.Advance(netchan.Confirmed)
		d.recorder.RecordJoin(addr, client.Name, true)
		return nil
	}

	d.recorder.RecordJoin(addr, client.Name, false)
	return []message.Message{message.NetDisconnect{Reason: disconnectNotFavorites}}
}
