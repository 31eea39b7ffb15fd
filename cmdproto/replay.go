// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cmdproto

import "sync"

// replayGuard tracks the last accepted sequence number for one client.
// "No prior sequence accepted yet" is represented with an explicit seen
// flag rather than a sentinel zero value, so that sequence 0 from a
// first-ever message is accepted (spec.md's Open Question on this is
// resolved this way; see DESIGN.md).
type replayGuard struct {
	mu            sync.Mutex
	seen          bool
	lastAccepted  uint32
}

// accepts reports whether sequence is acceptable (strictly greater than
// the last accepted sequence, or the very first sequence seen from this
// client), without recording it. Callers must call commit separately
// once the command has actually been dispatched, per spec.md §5's
// "last_accepted updated only on successful dispatch".
func (g *replayGuard) accepts(sequence uint32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.seen {
		return true
	}
	return sequence > g.lastAccepted
}

// commit records sequence as the new high-water mark.
func (g *replayGuard) commit(sequence uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = true
	g.lastAccepted = sequence
}
