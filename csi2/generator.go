// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package csi2

import "github.com/flatpanel/detectorstream/crc16"

// pixelCRC computes the CRC16 over a line's pixels, encoded as big-endian
// 16-bit words, mirroring the teacher's own habit (devices/lepton/
// internal.Big16) of being explicit about wire byte order rather than
// relying on the host's native endianness.
func pixelCRC(pixels []uint16) uint16 {
	b := make([]byte, len(pixels)*2)
	for i, p := range pixels {
		b[2*i] = byte(p >> 8)
		b[2*i+1] = byte(p)
	}
	return crc16.Checksum(b)
}

// Generator produces the CSI-2 packet sequence for one frame: FS, then
// LS/LineData/LE for each line, then FE.
type Generator struct {
	VirtualChannel uint8
}

// Generate returns the full packet sequence for a frame made of the given
// lines, each already captured by the line buffer.
func (g Generator) Generate(frameNumber uint32, lines [][]uint16) []Packet {
	packets := make([]Packet, 0, 2+3*len(lines))
	packets = append(packets, Packet{
		Kind:           FrameStart,
		VirtualChannel: g.VirtualChannel,
		FrameNumber:    frameNumber,
	})
	for i, line := range lines {
		packets = append(packets,
			Packet{Kind: LineStart, VirtualChannel: g.VirtualChannel},
			Packet{
				Kind:           LineData,
				VirtualChannel: g.VirtualChannel,
				DataType:       RAW16,
				LineNumber:     uint16(i),
				Pixels:         line,
				CRC16:          pixelCRC(line),
			},
			Packet{Kind: LineEnd, VirtualChannel: g.VirtualChannel},
		)
	}
	packets = append(packets, Packet{
		Kind:           FrameEnd,
		VirtualChannel: g.VirtualChannel,
		FrameNumber:    frameNumber,
	})
	return packets
}
