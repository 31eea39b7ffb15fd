// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package framebuffer implements the SoC-side frame buffer manager: a
// 4-slot ring, indexed by frame_number mod NumSlots, with an oldest-drop
// admission policy so a stalled consumer never blocks the producer.
package framebuffer

import (
	"errors"
	"sync"

	"github.com/charmbracelet/log"
)

// NumSlots is the number of ring slots (spec-fixed at 4).
const NumSlots = 4

// State is the lifecycle state of a slot.
type State uint8

// Valid values of State.
const (
	Free State = iota
	Filling
	Ready
	Sending
)

func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case Filling:
		return "Filling"
	case Ready:
		return "Ready"
	case Sending:
		return "Sending"
	default:
		return "Unknown"
	}
}

// Sentinel errors returned by Manager operations.
var (
	ErrNotFilling = errors.New("framebuffer: slot is not in Filling state")
	ErrNotSending = errors.New("framebuffer: slot is not in Sending state")
	ErrNoneReady  = errors.New("framebuffer: no slot is Ready")
)

type slot struct {
	state       State
	frameNumber uint32
	data        []byte
	size        int
}

// Stats accumulates frame buffer manager counters.
type Stats struct {
	FramesReceived uint64
	FramesSent     uint64
	FramesDropped  uint64
	Overruns       uint64
}

// Manager is the 4-slot ring. All operations are serialized by a single
// mutex: the slot a given call touches is exclusively owned by the
// caller for the call's duration, but Acquire/Commit (producer side) and
// AcquireReady/Release (consumer side) may be invoked concurrently from
// different goroutines.
type Manager struct {
	mu        sync.Mutex
	slots     [NumSlots]slot
	slotSize  int
	stats     Stats
	logger    *log.Logger
}

// NewManager returns a Manager whose slots are all Free, each backed by
// a buffer of slotSize bytes.
func NewManager(slotSize int, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{slotSize: slotSize, logger: logger}
	for i := range m.slots {
		m.slots[i].data = make([]byte, slotSize)
	}
	return m
}

func index(frameNumber uint32) int {
	return int(frameNumber % NumSlots)
}

// Acquire prepares the slot at index frame_number mod NumSlots to
// receive frame_number's pixel data. If that slot is Free it transitions
// Free->Filling. Otherwise its current occupant, whatever its state, is
// dropped and counted (FramesDropped and Overruns), and the slot is
// reused for frame_number. Only the slot at the target index is
// considered: Ready or older slots at other indices are never dropped in
// its place.
func (m *Manager) Acquire(frameNumber uint32) (data []byte, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := index(frameNumber)
	s := &m.slots[i]
	if s.state != Free {
		m.stats.FramesDropped++
		m.stats.Overruns++
		m.logger.Warn("framebuffer slot overrun, dropping occupant",
			"slot", i, "dropped_frame", s.frameNumber, "incoming_frame", frameNumber, "dropped_state", s.state)
	}
	s.state = Filling
	s.frameNumber = frameNumber
	s.size = 0
	return s.data, len(s.data)
}

// Commit marks frame_number's slot Filling->Ready, recording its final
// size. It fails if the slot is not currently Filling for frame_number.
func (m *Manager) Commit(frameNumber uint32, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.slots[index(frameNumber)]
	if s.state != Filling || s.frameNumber != frameNumber {
		return ErrNotFilling
	}
	s.state = Ready
	s.size = size
	m.stats.FramesReceived++
	return nil
}

// AcquireReady chooses the Ready slot with the smallest frame_number,
// transitions it Ready->Sending, and returns its data, size, and
// frame_number. It fails if no slot is Ready.
func (m *Manager) AcquireReady() (data []byte, size int, frameNumber uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := -1
	for i := range m.slots {
		if m.slots[i].state != Ready {
			continue
		}
		if best == -1 || m.slots[i].frameNumber < m.slots[best].frameNumber {
			best = i
		}
	}
	if best == -1 {
		return nil, 0, 0, ErrNoneReady
	}
	s := &m.slots[best]
	s.state = Sending
	return s.data[:s.size], s.size, s.frameNumber, nil
}

// Release marks frame_number's slot Sending->Free, incrementing
// frames_sent. It fails if the slot is not currently Sending for
// frame_number.
func (m *Manager) Release(frameNumber uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.slots[index(frameNumber)]
	if s.state != Sending || s.frameNumber != frameNumber {
		return ErrNotSending
	}
	s.state = Free
	s.frameNumber = 0
	s.size = 0
	m.stats.FramesSent++
	return nil
}

// SlotState reports the current state of the slot holding frame_number's
// index (not necessarily frame_number itself, if it has since been
// reused). Intended for diagnostics and tests.
func (m *Manager) SlotState(frameNumber uint32) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[index(frameNumber)].state
}

// Stats returns a snapshot of the lifecycle counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
