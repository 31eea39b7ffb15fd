// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cmdproto implements the authenticated command channel: a
// magic-framed, HMAC-SHA256-signed request/response protocol with
// strict validation order (magic, then HMAC, then anti-replay) and a
// strictly-increasing per-client sequence number for replay rejection.
package cmdproto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

// Magic values.
const (
	CommandMagic  uint32 = 0xBEEFCAFE
	ResponseMagic uint32 = 0xCAFEBEEF
)

// CommandID identifies a dispatched operation.
type CommandID uint16

// Dispatch set from spec.md §4.7.
const (
	CmdStartScan  CommandID = 0x01
	CmdStopScan   CommandID = 0x02
	CmdGetStatus  CommandID = 0x10
	CmdSetConfig  CommandID = 0x20
	CmdReset      CommandID = 0x30
)

// Status is a response status code.
type Status uint16

// Valid values of Status.
const (
	StatusOk Status = iota
	StatusError
	StatusBusy
	StatusInvalidCmd
	StatusAuthFailed
	StatusReplay
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusError:
		return "Error"
	case StatusBusy:
		return "Busy"
	case StatusInvalidCmd:
		return "InvalidCmd"
	case StatusAuthFailed:
		return "AuthFailed"
	case StatusReplay:
		return "Replay"
	default:
		return "Unknown"
	}
}

const hmacSize = sha256.Size // 32 bytes

// ErrTooShort is returned when raw bytes are too short to hold the fixed
// command/response fields.
var ErrTooShort = errors.New("cmdproto: frame shorter than fixed header")

// Command is a decoded, not-yet-authenticated command frame.
type Command struct {
	Sequence   uint32
	CommandID  CommandID
	Payload    []byte
	HMAC       [hmacSize]byte
}

// canonicalBytes builds the bytes HMAC is computed over:
// magic(4) || sequence(4) || command_id(2) || payload_len(2) || payload.
func canonicalBytes(magic uint32, sequence uint32, commandID uint16, payload []byte) []byte {
	buf := make([]byte, 0, 12+len(payload))
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], magic)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], sequence)
	buf = append(buf, tmp[:]...)
	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], commandID)
	buf = append(buf, tmp2[:]...)
	binary.BigEndian.PutUint16(tmp2[:], uint16(len(payload)))
	buf = append(buf, tmp2[:]...)
	buf = append(buf, payload...)
	return buf
}

// sign computes the HMAC-SHA256 over the canonical bytes with key.
func sign(key []byte, magic uint32, sequence uint32, commandID uint16, payload []byte) [hmacSize]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(canonicalBytes(magic, sequence, commandID, payload))
	var out [hmacSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// EncodeCommand serializes a signed command frame.
func EncodeCommand(key []byte, sequence uint32, commandID CommandID, payload []byte) []byte {
	mac := sign(key, CommandMagic, sequence, uint16(commandID), payload)
	return assembleFrame(CommandMagic, sequence, uint16(commandID), payload, mac)
}

// EncodeResponse serializes a signed response frame.
func EncodeResponse(key []byte, sequence uint32, status Status, payload []byte) []byte {
	mac := sign(key, ResponseMagic, sequence, uint16(status), payload)
	return assembleFrame(ResponseMagic, sequence, uint16(status), payload, mac)
}

func assembleFrame(magic uint32, sequence uint32, field uint16, payload []byte, mac [hmacSize]byte) []byte {
	buf := make([]byte, 0, 12+hmacSize+len(payload))
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], magic)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], sequence)
	buf = append(buf, tmp[:]...)
	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], field)
	buf = append(buf, tmp2[:]...)
	binary.BigEndian.PutUint16(tmp2[:], uint16(len(payload)))
	buf = append(buf, tmp2[:]...)
	buf = append(buf, mac[:]...)
	buf = append(buf, payload...)
	return buf
}

// decodedFrame holds the fields common to command and response wire
// layouts, before magic/HMAC validation.
type decodedFrame struct {
	magic      uint32
	sequence   uint32
	field      uint16 // command_id or status
	payload    []byte
	mac        [hmacSize]byte
}

func decodeFrame(raw []byte) (decodedFrame, error) {
	const fixed = 4 + 4 + 2 + 2 + hmacSize
	if len(raw) < fixed {
		return decodedFrame{}, ErrTooShort
	}
	d := decodedFrame{
		magic:    binary.BigEndian.Uint32(raw[0:4]),
		sequence: binary.BigEndian.Uint32(raw[4:8]),
		field:    binary.BigEndian.Uint16(raw[8:10]),
	}
	payloadLen := binary.BigEndian.Uint16(raw[10:12])
	copy(d.mac[:], raw[12:12+hmacSize])
	if len(raw) < fixed+int(payloadLen) {
		return decodedFrame{}, ErrTooShort
	}
	d.payload = raw[fixed : fixed+int(payloadLen)]
	return d, nil
}
