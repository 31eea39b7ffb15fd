// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package udptransport implements the SoC-to-host frame transport:
// fragmenting a completed frame into a sequence of fixed-header UDP
// packets, and the transmitter that drains completed frames and emits
// their packets.
package udptransport

import (
	"encoding/binary"
	"errors"

	"github.com/flatpanel/detectorstream/crc16"
)

// HeaderSize is the wire size of Header in bytes. The header is encoded
// little-endian throughout; the pixel payload that follows it on the
// wire is big-endian (see reassembler), an intentional endianness split
// carried forward from spec.md §3/§9.
const HeaderSize = 32

// Magic identifies a frame-data packet.
const Magic uint32 = 0xD7E01234

// Flag bits.
const (
	FlagFirst uint16 = 1 << 0
	FlagLast  uint16 = 1 << 1
	FlagDrop  uint16 = 1 << 15
)

// ErrShortHeader is returned by DecodeHeader when raw is shorter than
// HeaderSize.
var ErrShortHeader = errors.New("udptransport: packet shorter than header")

// ErrBadCRC is returned by DecodeHeader when the header's CRC16 field
// does not match the CRC computed over bytes 0..27.
var ErrBadCRC = errors.New("udptransport: header CRC mismatch")

// Header is the 32-byte frame packet header.
type Header struct {
	FrameNumber   uint32
	PacketIndex   uint16
	TotalPackets  uint16
	PayloadLen    uint16
	Flags         uint16
	TimestampNs   uint64
	CRC16         uint16
}

// Encode serializes h into a HeaderSize-byte buffer, computing and
// filling in CRC16 over bytes 0..27.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.FrameNumber)
	binary.LittleEndian.PutUint16(buf[8:10], h.PacketIndex)
	binary.LittleEndian.PutUint16(buf[10:12], h.TotalPackets)
	binary.LittleEndian.PutUint16(buf[12:14], h.PayloadLen)
	binary.LittleEndian.PutUint16(buf[14:16], h.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], h.TimestampNs)
	// buf[24:28] reserved, zero.
	sum := crc16.Checksum(buf[0:28])
	binary.LittleEndian.PutUint16(buf[28:30], sum)
	// buf[30:32] reserved, zero.
	return buf
}

// DecodeHeader parses and validates a Header from the front of raw. It
// returns ErrShortHeader if raw is too short, and ErrBadCRC if the CRC16
// field doesn't match the computed checksum over bytes 0..27. Magic is
// not validated here; a caller that wants to tell a bad-magic packet
// from a corrupt one can read it with HeaderMagic.
func DecodeHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	want := binary.LittleEndian.Uint16(raw[28:30])
	got := crc16.Checksum(raw[0:28])
	if want != got {
		return Header{}, ErrBadCRC
	}
	return Header{
		FrameNumber:  binary.LittleEndian.Uint32(raw[4:8]),
		PacketIndex:  binary.LittleEndian.Uint16(raw[8:10]),
		TotalPackets: binary.LittleEndian.Uint16(raw[10:12]),
		PayloadLen:   binary.LittleEndian.Uint16(raw[12:14]),
		Flags:        binary.LittleEndian.Uint16(raw[14:16]),
		TimestampNs:  binary.LittleEndian.Uint64(raw[16:24]),
		CRC16:        want,
	}, nil
}

// HeaderMagic reads only the magic field, without validating the CRC,
// so a caller can reject a bad-magic packet before spending a CRC
// computation on it. The reassembler does not call it.
func HeaderMagic(raw []byte) (uint32, error) {
	if len(raw) < 4 {
		return 0, ErrShortHeader
	}
	return binary.LittleEndian.Uint32(raw[0:4]), nil
}
