// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package linebuffer implements the ping-pong pixel line store that sits
// between the ROIC readout clock domain and the CSI-2 packetizer.
package linebuffer

import "errors"

// MaxPixelsPerLine is the largest line width the buffer can hold.
const MaxPixelsPerLine = 3072

// Errors returned by Buffer operations.
var (
	// ErrOverflow is returned by WriteLine when the supplied line is wider
	// than the configured capacity.
	ErrOverflow = errors.New("linebuffer: line exceeds capacity")
	// ErrBankFull is returned by WriteLine when the active write bank
	// already holds an unread line.
	ErrBankFull = errors.New("linebuffer: active write bank already full")
)

// bank holds at most one pending line.
type bank struct {
	pixels []uint16
	full   bool
}

// Buffer is a two-bank (A/B) pixel line store. The active write bank and
// the active read bank are tracked by separate indices that start on
// opposite banks; ToggleWriteBank and ToggleReadBank each flip one of
// them, so callers must toggle both banks together to keep
// ActiveReadBank equal to 1-ActiveWriteBank.
//
// Buffer is not safe for concurrent use: spec.md models a single writer
// (ROIC domain) and a single reader (CSI-2 domain) with bank toggling as
// the sole synchronization point between them.
type Buffer struct {
	capacity int
	banks    [2]bank

	activeWrite int // 0 or 1
	readBank    int // 0 or 1
	overflowed  bool
}

// New returns a Buffer sized to hold lines up to capacity pixels wide.
//
// A zero or negative capacity selects MaxPixelsPerLine, and a capacity
// above MaxPixelsPerLine is clamped to it.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = MaxPixelsPerLine
	}
	if capacity > MaxPixelsPerLine {
		capacity = MaxPixelsPerLine
	}
	return &Buffer{capacity: capacity, readBank: 1}
}

// Capacity returns the configured maximum line width in pixels.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// activeRead is the active read bank index.
func (b *Buffer) activeRead() int {
	return b.readBank
}

// WriteLine stores pixels into the active write bank.
//
// It fails with ErrOverflow if pixels is wider than the buffer's capacity,
// latching the overflow flag, and with ErrBankFull if the active write
// bank already holds an unread line.
func (b *Buffer) WriteLine(pixels []uint16) error {
	if len(pixels) > b.capacity {
		b.overflowed = true
		return ErrOverflow
	}
	wb := &b.banks[b.activeWrite]
	if wb.full {
		return ErrBankFull
	}
	wb.pixels = append(wb.pixels[:0], pixels...)
	wb.full = true
	return nil
}

// ReadLine returns the contents of the active read bank, clearing it.
//
// If the active read bank is empty, ReadLine returns a nil slice and a
// nil error: this is not an error condition, the CSI-2 generator is
// expected to poll.
func (b *Buffer) ReadLine() ([]uint16, error) {
	rb := &b.banks[b.activeRead()]
	if !rb.full {
		return nil, nil
	}
	out := rb.pixels
	rb.pixels = nil
	rb.full = false
	return out, nil
}

// ToggleWriteBank flips the active write bank index.
func (b *Buffer) ToggleWriteBank() {
	b.activeWrite = 1 - b.activeWrite
}

// ToggleReadBank flips the active read bank index.
//
// Call it together with ToggleWriteBank so the read bank stays opposite
// the write bank.
func (b *Buffer) ToggleReadBank() {
	b.readBank = 1 - b.readBank
}

// Overflowed reports whether WriteLine has observed an oversized line
// since the buffer was created or last Cleared.
func (b *Buffer) Overflowed() bool {
	return b.overflowed
}

// Clear empties both banks and resets the latched overflow flag.
func (b *Buffer) Clear() {
	b.banks[0] = bank{}
	b.banks[1] = bank{}
	b.overflowed = false
}
