// Package latest tracks the most recently issued request key so that
// asynchronous completions can be dropped once superseded.
package latest

import "context"

// Ticket identifies one issued request.
type Ticket[K comparable] struct {
	Key K
	seq uint64
}

// Guard remembers the latest issued key. It is not safe for concurrent
// use: Issue and Current run on the owner's event loop, and completions
// are posted back onto that loop before they are checked.
type Guard[K comparable] struct {
	seq    uint64
	key    K
	issued bool
	cancel context.CancelFunc
}

// Issue records key as the latest request and cancels the context of the
// previous one. The returned context is cancelled when superseded.
func (g *Guard[K]) Issue(parent context.Context, key K) (Ticket[K], context.Context) {
	if g.cancel != nil {
		g.cancel()
	}
	g.seq++
	g.key = key
	g.issued = true
	ctx, cancel := context.WithCancel(parent)
	g.cancel = cancel
	return Ticket[K]{Key: key, seq: g.seq}, ctx
}

// Current reports whether t is still the latest request with the latest key.
func (g *Guard[K]) Current(t Ticket[K]) bool {
	return g.issued && t.seq == g.seq && t.Key == g.key
}

// Latest returns the latest issued key.
func (g *Guard[K]) Latest() (K, bool) {
	return g.key, g.issued
}

// Done releases the context of t once its completion has been handled.
func (g *Guard[K]) Done(t Ticket[K]) {
	if g.Current(t) && g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
}

// Reset forgets the latest request, cancelling it.
func (g *Guard[K]) Reset() {
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	var zero K
	g.key = zero
	g.issued = false
	g.seq++
}
