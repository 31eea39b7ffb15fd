// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package reassembler implements the host-side frame reassembler: a
// concurrent per-frame_number slot map tolerant of out-of-order and
// duplicate packets, with CRC validation, a per-slot timeout that
// zero-fills missing packets, and bounded concurrent slots evicted
// oldest-first when saturated.
package reassembler

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/flatpanel/detectorstream/udptransport"
)

// Defaults from spec.md §4.8.
const (
	DefaultMaxConcurrentSlots = 8
	DefaultTimeout            = 500 * time.Millisecond
)

// poolPixelCap bounds the per-packet buffer the sync.Pool hands out;
// packets with more pixels than this allocate directly instead of
// pooling, same relief-valve pattern as fmt's internal printer pool.
const poolPixelCap = 4096

var pixelPool = sync.Pool{
	New: func() any {
		buf := make([]uint16, 0, poolPixelCap)
		return &buf
	},
}

func getPixelBuf(n int) []uint16 {
	if n > poolPixelCap {
		return make([]uint16, n)
	}
	bufp := pixelPool.Get().(*[]uint16)
	buf := (*bufp)[:n]
	return buf
}

func putPixelBuf(buf []uint16) {
	if cap(buf) != poolPixelCap {
		return
	}
	buf = buf[:0]
	pixelPool.Put(&buf)
}

// Kind tags the outcome of ProcessPacket.
type Kind uint8

// Valid values of Kind.
const (
	Processing Kind = iota
	Complete
	Partial
	CrcError
)

func (k Kind) String() string {
	switch k {
	case Processing:
		return "Processing"
	case Complete:
		return "Complete"
	case Partial:
		return "Partial"
	case CrcError:
		return "CrcError"
	default:
		return "Unknown"
	}
}

// Result is the tagged outcome of handling one packet.
type Result struct {
	Kind        Kind
	FrameNumber uint32
	Pixels      []uint16
}

type frameSlot struct {
	frameNumber     uint32
	totalPackets    int
	pixelsPerPacket int
	packets         [][]uint16
	received        []bool
	receivedCount   int
	createdAt       time.Time
}

func newFrameSlot(frameNumber uint32, totalPackets, pixelsPerPacket int, now time.Time) *frameSlot {
	return &frameSlot{
		frameNumber:     frameNumber,
		totalPackets:    totalPackets,
		pixelsPerPacket: pixelsPerPacket,
		packets:         make([][]uint16, totalPackets),
		received:        make([]bool, totalPackets),
		createdAt:       now,
	}
}

func (s *frameSlot) release() {
	for _, p := range s.packets {
		if p != nil {
			putPixelBuf(p)
		}
	}
}

func (s *frameSlot) assemble() []uint16 {
	out := make([]uint16, 0, s.totalPackets*s.pixelsPerPacket)
	for _, p := range s.packets {
		if p == nil {
			out = append(out, make([]uint16, s.pixelsPerPacket)...)
			continue
		}
		out = append(out, p...)
	}
	return out
}

// Reassembler holds the concurrent slot map. Slot capacity and timeout
// are configurable; zero values fall back to spec.md defaults. The
// minimum packet size is fixed at udptransport.HeaderSize.
type Reassembler struct {
	mu            sync.Mutex
	slots         map[uint32]*frameSlot
	order         []uint32 // insertion order, oldest first, for eviction
	maxSlots      int
	timeout       time.Duration
	logger        *log.Logger
}

// New returns an empty Reassembler.
func New(maxSlots int, timeout time.Duration, logger *log.Logger) *Reassembler {
	if maxSlots <= 0 {
		maxSlots = DefaultMaxConcurrentSlots
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reassembler{
		slots:    make(map[uint32]*frameSlot),
		maxSlots: maxSlots,
		timeout:  timeout,
		logger:   logger,
	}
}

// evictOldestLocked removes the longest-lived slot to admit a new one.
// Caller must hold r.mu.
func (r *Reassembler) evictOldestLocked() {
	if len(r.order) == 0 {
		return
	}
	victim := r.order[0]
	r.order = r.order[1:]
	if s, ok := r.slots[victim]; ok {
		s.release()
		delete(r.slots, victim)
		r.logger.Warn("reassembler evicted oldest slot", "frame_number", victim)
	}
}

// decodePixelsBE decodes n big-endian u16 samples from payload.
func decodePixelsBE(payload []byte, n int) []uint16 {
	out := getPixelBuf(n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint16(payload[i*2 : i*2+2])
	}
	return out
}

// ProcessPacket implements the ten-step algorithm of spec.md §4.8.
func (r *Reassembler) ProcessPacket(raw []byte) Result {
	return r.processPacketAt(raw, time.Now())
}

func (r *Reassembler) processPacketAt(raw []byte, now time.Time) Result {
	// 1. Reject packets shorter than the header.
	if len(raw) < udptransport.HeaderSize {
		return Result{Kind: CrcError}
	}

	// 2. Validate header CRC; mismatch discards the packet untouched.
	h, err := udptransport.DecodeHeader(raw)
	if err != nil {
		return Result{Kind: CrcError}
	}

	// 3. Parse frame_number, packet_index, total_packets,
	// pixels_per_packet (derived from payload_len, since the wire
	// header carries bytes, not sample counts).
	pixelsPerPacket := int(h.PayloadLen) / 2
	payload := raw[udptransport.HeaderSize:]
	if len(payload) < int(h.PayloadLen) {
		return Result{Kind: CrcError}
	}
	payload = payload[:h.PayloadLen]

	r.mu.Lock()
	defer r.mu.Unlock()

	// 4. Look up the slot; create it if absent, evicting oldest if at
	// capacity.
	s, ok := r.slots[h.FrameNumber]
	if !ok {
		if len(r.slots) >= r.maxSlots {
			r.evictOldestLocked()
		}
		s = newFrameSlot(h.FrameNumber, int(h.TotalPackets), pixelsPerPacket, now)
		r.slots[h.FrameNumber] = s
		r.order = append(r.order, h.FrameNumber)
	}

	// 6. Out-of-range or duplicate index: ignore.
	idx := int(h.PacketIndex)
	if idx >= s.totalPackets || s.received[idx] {
		return Result{Kind: Processing, FrameNumber: h.FrameNumber}
	}

	// 5. Decode payload to pixels_per_packet u16 values, BE.
	pixels := decodePixelsBE(payload, pixelsPerPacket)

	// 7. Store, mark received.
	s.packets[idx] = pixels
	s.received[idx] = true
	s.receivedCount++

	// 8. All packets received: complete.
	if s.receivedCount == s.totalPackets {
		out := s.assemble()
		s.release()
		delete(r.slots, h.FrameNumber)
		r.removeFromOrderLocked(h.FrameNumber)
		return Result{Kind: Complete, FrameNumber: h.FrameNumber, Pixels: out}
	}

	// 9. Past timeout: zero-fill and finalize as Partial.
	if now.Sub(s.createdAt) > r.timeout {
		out := s.assemble()
		s.release()
		delete(r.slots, h.FrameNumber)
		r.removeFromOrderLocked(h.FrameNumber)
		return Result{Kind: Partial, FrameNumber: h.FrameNumber, Pixels: out}
	}

	// 10. Still waiting.
	return Result{Kind: Processing, FrameNumber: h.FrameNumber}
}

func (r *Reassembler) removeFromOrderLocked(frameNumber uint32) {
	for i, fn := range r.order {
		if fn == frameNumber {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// Sweep removes every slot older than the configured timeout, returning
// a Partial Result for each (zero-filled per the same rule ProcessPacket
// applies). This is the periodic janitor spec.md §4.8 calls for.
func (r *Reassembler) Sweep() []Result {
	return r.sweepAt(time.Now())
}

func (r *Reassembler) sweepAt(now time.Time) []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []uint32
	for fn, s := range r.slots {
		if now.Sub(s.createdAt) > r.timeout {
			expired = append(expired, fn)
		}
	}

	results := make([]Result, 0, len(expired))
	for _, fn := range expired {
		s := r.slots[fn]
		out := s.assemble()
		s.release()
		delete(r.slots, fn)
		r.removeFromOrderLocked(fn)
		results = append(results, Result{Kind: Partial, FrameNumber: fn, Pixels: out})
	}
	return results
}

// SlotCount returns the number of in-flight reassembly slots.
func (r *Reassembler) SlotCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
