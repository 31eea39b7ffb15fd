// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package udptransport

// DefaultMaxPayload is the default fragmentation unit, sized for a
// standard (non-jumbo) Ethernet MTU after IP/UDP overhead.
const DefaultMaxPayload = 1472

// ceilDiv returns ceil(a/b) for positive a, b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Fragment splits frame into a sequence of wire packets, each at most
// maxPayload bytes of pixel payload plus a HeaderSize header. Packets
// are returned in increasing packet_index order. timestampNs is stamped
// on every packet of the frame (callers wanting a monotonically
// non-decreasing stream across frames must supply non-decreasing values
// across calls).
func Fragment(frameNumber uint32, frame []byte, maxPayload int, timestampNs uint64) [][]byte {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	total := ceilDiv(len(frame), maxPayload)
	if total == 0 {
		total = 1 // an empty frame still yields one empty packet
	}

	packets := make([][]byte, 0, total)
	for idx := 0; idx < total; idx++ {
		start := idx * maxPayload
		end := start + maxPayload
		if end > len(frame) {
			end = len(frame)
		}
		payload := frame[start:end]

		var flags uint16
		if idx == 0 {
			flags |= FlagFirst
		}
		if idx == total-1 {
			flags |= FlagLast
		}

		h := Header{
			FrameNumber:  frameNumber,
			PacketIndex:  uint16(idx),
			TotalPackets: uint16(total),
			PayloadLen:   uint16(len(payload)),
			Flags:        flags,
			TimestampNs:  timestampNs,
		}
		pkt := make([]byte, 0, HeaderSize+len(payload))
		pkt = append(pkt, h.Encode()...)
		pkt = append(pkt, payload...)
		packets = append(packets, pkt)
	}
	return packets
}
