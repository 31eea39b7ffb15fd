// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package spireg implements the host-facing SPI register map: the
// control/status registers the host uses to configure and monitor the
// detector FPGA. It generalizes the memory-mapped-register pattern
// (write address, read or write value) to an in-memory register file
// with read-only enforcement.
package spireg

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Address identifies a 16-bit register.
type Address uint16

// Registers defined by spec.md §6.
const (
	DeviceID     Address = 0x0000 // ro
	Status       Address = 0x0001 // ro
	Control      Address = 0x0002 // wo
	FrameCountHi Address = 0x0003 // ro
	FrameCountLo Address = 0x0004 // ro
	ErrorFlags   Address = 0x0005 // ro
	Version      Address = 0x0006 // ro
)

// DeviceIDValue is the fixed identifier read back from DeviceID.
const DeviceIDValue uint16 = 0xA735

// Status bits.
const (
	StatusIdle  uint16 = 1 << 0
	StatusBusy  uint16 = 1 << 1
	StatusError uint16 = 1 << 2
)

// Control bits. Bits 5-6 hold the scan mode (Single/Continuous/
// Calibration); Map stores them like any other Control bit and does not
// decode them.
const (
	ControlStart      uint16 = 1 << 0
	ControlStop       uint16 = 1 << 1
	ControlReset      uint16 = 1 << 2
	ControlErrorClear uint16 = 1 << 4
	ControlModeMask   uint16 = 0x3 << 5
	ControlModeShift         = 5
)

// readOnly is the set of registers the host may not write directly.
var readOnly = map[Address]bool{
	DeviceID:     true,
	Status:       true,
	FrameCountHi: true,
	FrameCountLo: true,
	ErrorFlags:   true,
	Version:      true,
}

// Map is the serialized register file. All reads and writes are guarded
// by a single mutex, per spec.md §5's "SPI registers: serialized by a
// single guard" requirement.
type Map struct {
	mu     sync.Mutex
	regs   map[Address]uint16
	logger *log.Logger
}

// NewMap returns an initialized register map with DeviceID and Version
// populated and Status set to idle.
func NewMap(version uint16, logger *log.Logger) *Map {
	if logger == nil {
		logger = log.Default()
	}
	return &Map{
		regs: map[Address]uint16{
			DeviceID: DeviceIDValue,
			Status:   StatusIdle,
			Version:  version,
		},
		logger: logger,
	}
}

// Read returns the current value of addr. Unknown addresses read as 0.
func (m *Map) Read(addr Address) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[addr]
}

// ReadOnly reports whether addr is in the read-only set.
func ReadOnly(addr Address) bool {
	return readOnly[addr]
}

// Write sets addr to value from the host side.
//
// Writes to read-only registers are silently ignored, per spec.md §6.
// A write to Control with the error_clear bit set atomically clears
// ErrorFlags as part of the same locked operation.
func (m *Map) Write(addr Address, value uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if readOnly[addr] {
		m.logger.Warn("write to read-only register ignored", "addr", addr, "value", value)
		return
	}
	m.regs[addr] = value
	if addr == Control && value&ControlErrorClear != 0 {
		delete(m.regs, ErrorFlags)
		m.regs[Status] &^= StatusError
	}
}

// FrameCount returns the combined 32-bit frame counter from
// FrameCountHi/FrameCountLo.
func (m *Map) FrameCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(m.regs[FrameCountHi])<<16 | uint32(m.regs[FrameCountLo])
}

// SetFrameCount updates the combined frame counter. It is the
// device-side setter; the host cannot change FrameCountHi/FrameCountLo
// through Write, since both are read-only.
func (m *Map) SetFrameCount(v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[FrameCountHi] = uint16(v >> 16)
	m.regs[FrameCountLo] = uint16(v)
}

// SetStatusBits ORs bits into Status. Called internally by the sequence
// FSM as the scan lifecycle progresses.
func (m *Map) SetStatusBits(bits uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[Status] |= bits
}

// ClearStatusBits clears bits in Status.
func (m *Map) ClearStatusBits(bits uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[Status] &^= bits
}

// ErrorFlags returns the current latched error flags.
func (m *Map) ErrorFlags() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[ErrorFlags]
}

// RaiseErrorFlags ORs fault bits into ErrorFlags and sets the Status
// error bit. Called internally when the sequence FSM enters Error,
// including fatal faults (watchdog, ROIC).
func (m *Map) RaiseErrorFlags(bits uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[ErrorFlags] |= bits
	m.regs[Status] |= StatusError
}
