package benginetest

import (
	"context"
	"sync"

	"github.com/bachledger/bach/bengine"
)

// Network is an in-process broadcast fabric connecting engines:
// every message a member broadcasts is delivered to every other member.
type Network struct {
	mu sync.Mutex

	members []*bengine.Engine

	// Broadcasts block until started, so a member's first proposal
	// cannot race ahead of the other members' registration.
	started chan struct{}
}

// NewNetwork returns an empty network.
// No traffic flows until Start is called.
func NewNetwork() *Network {
	return &Network{started: make(chan struct{})}
}

// Start releases all broadcasts.
// Call it after every member is registered.
func (n *Network) Start() {
	close(n.started)
}

// Join returns the broadcaster for the next member.
// The engine built with that broadcaster must be registered
// with Register before traffic flows to it.
func (n *Network) Join() *Link {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.members = append(n.members, nil)
	return &Link{net: n, idx: len(n.members) - 1}
}

// Register attaches the engine behind the given link,
// so it starts receiving the other members' broadcasts.
func (n *Network) Register(l *Link, e *bengine.Engine) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.members[l.idx] = e
}

func (n *Network) others(idx int) []*bengine.Engine {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]*bengine.Engine, 0, len(n.members)-1)
	for i, m := range n.members {
		if i == idx || m == nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Link is one member's outbound side of a [Network].
type Link struct {
	net *Network
	idx int
}

var _ bengine.Broadcaster = (*Link)(nil)

func (l *Link) BroadcastProposal(ctx context.Context, p bengine.Proposal) {
	select {
	case <-l.net.started:
	case <-ctx.Done():
		return
	}

	for _, m := range l.net.others(l.idx) {
		m.HandleProposal(ctx, p)
	}
}

func (l *Link) BroadcastVote(ctx context.Context, v bengine.Vote) {
	select {
	case <-l.net.started:
	case <-ctx.Done():
		return
	}

	for _, m := range l.net.others(l.idx) {
		m.HandleVote(ctx, v)
	}
}
