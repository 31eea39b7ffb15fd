// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package csi2

// DefaultFIFODepth is the default downstream FIFO depth in bytes.
const DefaultFIFODepth = 256

// DefaultBytesPerBeat is the default number of bytes transferred per
// cycle when the stream is not stalled.
const DefaultBytesPerBeat = 4

// Backpressure models an AXI-stream-like interface between the CSI-2
// generator and the downstream PHY: a FIFO of fixed depth that the PHY
// drains independently of the rate at which the generator tries to push
// bytes in.
type Backpressure struct {
	FIFODepth    int
	BytesPerBeat int

	fifoLevel         int
	stallCycles       int
	totalStallCycles  int
	bytesTransferred  int
	cyclesTransferred int
}

// NewBackpressure returns a Backpressure model with the given FIFO depth
// and beat size. A zero or negative value selects the package default.
func NewBackpressure(fifoDepth, bytesPerBeat int) *Backpressure {
	if fifoDepth <= 0 {
		fifoDepth = DefaultFIFODepth
	}
	if bytesPerBeat <= 0 {
		bytesPerBeat = DefaultBytesPerBeat
	}
	return &Backpressure{FIFODepth: fifoDepth, BytesPerBeat: bytesPerBeat}
}

// full reports whether the FIFO has no room left for another beat.
func (b *Backpressure) full() bool {
	return b.fifoLevel+b.BytesPerBeat > b.FIFODepth
}

// Cycle advances the model by one clock cycle. tvalid indicates the
// generator has a beat ready to push.
//
// When tvalid is true and the FIFO has room, the beat transfers: the
// FIFO level and byte counter advance and the stall-cycle counter
// resets. When tvalid is true and the FIFO is full, the cycle stalls:
// the stall counters advance and no data moves. When tvalid is false the
// cycle is idle and reported as no transfer.
func (b *Backpressure) Cycle(tvalid bool) (transferred bool) {
	if !tvalid {
		return false
	}
	if b.full() {
		b.stallCycles++
		b.totalStallCycles++
		return false
	}
	b.fifoLevel += b.BytesPerBeat
	b.bytesTransferred += b.BytesPerBeat
	b.cyclesTransferred++
	b.stallCycles = 0
	return true
}

// Drain models the PHY consuming up to n bytes from the FIFO, returning
// the number of bytes actually removed.
func (b *Backpressure) Drain(n int) int {
	if n > b.fifoLevel {
		n = b.fifoLevel
	}
	b.fifoLevel -= n
	return n
}

// FIFOLevel returns the current number of bytes held in the FIFO.
func (b *Backpressure) FIFOLevel() int {
	return b.fifoLevel
}

// StallCycles returns the number of consecutive cycles the stream has
// stalled since the last successful transfer.
func (b *Backpressure) StallCycles() int {
	return b.stallCycles
}

// TotalStallCycles returns the cumulative number of stalled cycles since
// the model was created.
func (b *Backpressure) TotalStallCycles() int {
	return b.totalStallCycles
}

// BytesTransferred returns the cumulative number of bytes successfully
// pushed into the FIFO.
func (b *Backpressure) BytesTransferred() int {
	return b.bytesTransferred
}
