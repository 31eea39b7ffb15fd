// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package udptransport

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// pollInterval bounds how often Run retries AcquireReady when the ring
// has nothing to send, so an idle transmitter doesn't spin a core.
const pollInterval = time.Millisecond

// FrameSource is the frame buffer manager's consumer-side surface, the
// only part Transmitter needs: drain the next Ready slot and release it
// once sent. Declared locally (rather than depending on the
// framebuffer package) so udptransport stays a leaf in the dependency
// graph, same as the teacher's conn/ leaves never import devices/.
type FrameSource interface {
	AcquireReady() (data []byte, size int, frameNumber uint32, err error)
	Release(frameNumber uint32) error
}

// Transmitter drains Ready frames from a FrameSource, fragments each
// into wire packets, and sends them over a net.PacketConn in increasing
// packet_index order.
type Transmitter struct {
	conn       net.PacketConn
	dst        net.Addr
	maxPayload int
	logger     *log.Logger
	clock      uint64 // monotonically increasing fake nanosecond clock
}

// NewTransmitter returns a Transmitter that writes to dst over conn,
// fragmenting frames at maxPayload bytes of payload per packet (0 uses
// DefaultMaxPayload).
func NewTransmitter(conn net.PacketConn, dst net.Addr, maxPayload int, logger *log.Logger) *Transmitter {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Transmitter{conn: conn, dst: dst, maxPayload: maxPayload, logger: logger}
}

// nextTimestamp returns a strictly increasing counter used as
// timestamp_ns. A real clock could go backward across an NTP step;
// spec.md §4.6 requires monotonic non-decreasing values on the wire, so
// the transmitter tracks its own counter rather than trusting
// time.Now().UnixNano() directly.
func (t *Transmitter) nextTimestamp() uint64 {
	return atomic.AddUint64(&t.clock, 1)
}

// SendFrame fragments frame (the bytes of one committed slot) for
// frameNumber and writes each packet to the destination in increasing
// packet_index order. It returns the number of packets sent and the
// first write error encountered, if any.
func (t *Transmitter) SendFrame(ctx context.Context, frameNumber uint32, frame []byte) (int, error) {
	packets := Fragment(frameNumber, frame, t.maxPayload, t.nextTimestamp())
	for i, pkt := range packets {
		select {
		case <-ctx.Done():
			return i, ctx.Err()
		default:
		}
		if _, err := t.conn.WriteTo(pkt, t.dst); err != nil {
			return i, err
		}
	}
	return len(packets), nil
}

// Run drains Ready frames from src until ctx is cancelled, sending each
// one and releasing its slot. It blocks the caller; run it in its own
// goroutine (the "one transmitter thread drains Ready slots" model of
// spec.md §5).
func (t *Transmitter) Run(ctx context.Context, src FrameSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, _, frameNumber, err := src.AcquireReady()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}
		if _, err := t.SendFrame(ctx, frameNumber, data); err != nil {
			t.logger.Error("frame send failed", "frame_number", frameNumber, "err", err)
		}
		if err := src.Release(frameNumber); err != nil {
			t.logger.Error("slot release failed", "frame_number", frameNumber, "err", err)
		}
	}
}
