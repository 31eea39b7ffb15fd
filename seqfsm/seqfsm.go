// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package seqfsm implements the top-level scan lifecycle state machine:
// Idle -> Configure -> Arm -> Scanning -> Streaming -> Complete/Idle, with
// an Error branch capped at three recoveries.
package seqfsm

import (
	"sync"

	"github.com/charmbracelet/log"
)

// State is one state of the scan lifecycle.
type State uint8

// Valid values of State.
const (
	Idle State = iota
	Configure
	Arm
	Scanning
	Streaming
	Complete
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Configure:
		return "Configure"
	case Arm:
		return "Arm"
	case Scanning:
		return "Scanning"
	case Streaming:
		return "Streaming"
	case Complete:
		return "Complete"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Mode selects the scan lifecycle's repeat behavior.
type Mode uint8

// Valid values of Mode.
const (
	Single Mode = iota
	Continuous
	Calibration
)

func (m Mode) String() string {
	switch m {
	case Single:
		return "Single"
	case Continuous:
		return "Continuous"
	case Calibration:
		return "Calibration"
	default:
		return "Unknown"
	}
}

// maxRetries bounds how many times ErrorCleared can recover the FSM from
// Error before it latches there permanently.
const maxRetries = 3

// ProtectionLogic is the capability interface the FSM drives instead of
// holding a cyclic reference to its SPI-master/protection-logic
// collaborator (spec.md §9). A nil ProtectionLogic puts the FSM in
// standalone mode: OnConfigure and OnArm auto-fire their *Done events so
// StartScan deterministically reaches Scanning without an external SPI
// collaborator driving it.
type ProtectionLogic interface {
	// OnConfigure is invoked when the FSM enters Configure; the
	// collaborator is expected to eventually call FSM.ConfigDone.
	OnConfigure(mode Mode)
	// OnArm is invoked when the FSM enters Arm; the collaborator is
	// expected to eventually call FSM.ArmDone.
	OnArm()
	// OnError is invoked whenever the FSM transitions into Error, with
	// the state it transitioned from.
	OnError(prev State)
	// OnStop is invoked whenever StopScan returns the FSM to Idle.
	OnStop()
	// SafetyShutdown is invoked for fatal faults (watchdog, ROIC) and
	// must latch a safety shutdown sequence that only clears via an
	// explicit error_clear (spec.md §7).
	SafetyShutdown(reason string)
}

// Stats accumulates scan lifecycle counters.
type Stats struct {
	FramesReceived uint64
	FramesSent     uint64
	Errors         uint64
	Retries        uint64
}

// FSM is the sequence state machine. A single instance exists per
// device; it is created at startup and destroyed only at shutdown.
type FSM struct {
	mu      sync.Mutex
	state   State
	mode    Mode
	retries int
	stats   Stats

	collaborator ProtectionLogic
	logger       *log.Logger
}

// New returns an FSM in the Idle state. collaborator may be nil, in
// which case the FSM runs in standalone mode (see ProtectionLogic).
func New(collaborator ProtectionLogic, logger *log.Logger) *FSM {
	if logger == nil {
		logger = log.Default()
	}
	return &FSM{collaborator: collaborator, logger: logger}
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Mode returns the mode of the in-progress (or most recent) scan.
func (f *FSM) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// Stats returns a snapshot of the lifecycle counters.
func (f *FSM) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *FSM) transition(from, to State, event string) {
	f.logger.Debug("fsm transition", "event", event, "from", from, "to", to)
}

// StartScan begins a scan. It is accepted only from Idle or Complete;
// any other state silently ignores the event.
func (f *FSM) StartScan(mode Mode) {
	f.mu.Lock()
	if f.state != Idle && f.state != Complete {
		f.mu.Unlock()
		return
	}
	f.mode = mode
	prev := f.state
	f.state = Configure
	f.mu.Unlock()
	f.transition(prev, Configure, "StartScan")

	if f.collaborator != nil {
		f.collaborator.OnConfigure(mode)
	} else {
		f.ConfigDone()
	}
}

// ConfigDone signals that configuration has completed; accepted only
// from Configure.
func (f *FSM) ConfigDone() {
	f.mu.Lock()
	if f.state != Configure {
		f.mu.Unlock()
		return
	}
	f.state = Arm
	f.mu.Unlock()
	f.transition(Configure, Arm, "ConfigDone")

	if f.collaborator != nil {
		f.collaborator.OnArm()
	} else {
		f.ArmDone()
	}
}

// ArmDone signals the detector has armed; accepted only from Arm.
func (f *FSM) ArmDone() {
	f.mu.Lock()
	if f.state != Arm {
		f.mu.Unlock()
		return
	}
	f.state = Scanning
	f.mu.Unlock()
	f.transition(Arm, Scanning, "ArmDone")
}

// FrameReady signals the frame buffer manager committed a frame;
// accepted only from Scanning.
func (f *FSM) FrameReady() {
	f.mu.Lock()
	if f.state != Scanning {
		f.mu.Unlock()
		return
	}
	f.state = Streaming
	f.stats.FramesReceived++
	f.mu.Unlock()
	f.transition(Scanning, Streaming, "FrameReady")
}

// Complete signals one frame has finished transmitting; accepted only
// from Streaming. A Single-mode scan returns to Idle; Continuous and
// Calibration scans loop back to Scanning.
func (f *FSM) Complete() {
	f.mu.Lock()
	if f.state != Streaming {
		f.mu.Unlock()
		return
	}
	f.stats.FramesSent++
	next := Scanning
	if f.mode == Single {
		next = Idle
	}
	f.state = next
	f.mu.Unlock()
	f.transition(Streaming, next, "Complete")
}

// StopScan returns the FSM to Idle from any state.
func (f *FSM) StopScan() {
	f.mu.Lock()
	prev := f.state
	f.state = Idle
	f.mu.Unlock()
	if prev != Idle {
		f.transition(prev, Idle, "StopScan")
	}
	if f.collaborator != nil {
		f.collaborator.OnStop()
	}
}

// RaiseError transitions the FSM to Error from any non-Error state; a
// second RaiseError while already in Error is a no-op (the table has no
// transition for it).
func (f *FSM) RaiseError() {
	f.mu.Lock()
	if f.state == Error {
		f.mu.Unlock()
		return
	}
	prev := f.state
	f.state = Error
	f.stats.Errors++
	f.mu.Unlock()
	f.transition(prev, Error, "Error")

	if f.collaborator != nil {
		f.collaborator.OnError(prev)
	}
}

// RaiseFatalError is RaiseError plus a SafetyShutdown latch for faults
// spec.md §7 classifies as fatal (watchdog, ROIC). It requires an
// explicit error_clear (surfaced to the FSM as ErrorCleared) before
// normal operation resumes, same as any other Error.
func (f *FSM) RaiseFatalError(reason string) {
	f.RaiseError()
	if f.collaborator != nil {
		f.collaborator.SafetyShutdown(reason)
	}
}

// ErrorCleared attempts to recover from Error back to Idle. It is capped
// at three successful recoveries: once retries reaches three, further
// ErrorCleared events are ignored and the FSM remains in Error.
func (f *FSM) ErrorCleared() {
	f.mu.Lock()
	if f.state != Error {
		f.mu.Unlock()
		return
	}
	if f.retries >= maxRetries {
		f.mu.Unlock()
		return
	}
	f.retries++
	f.stats.Retries++
	f.state = Idle
	f.mu.Unlock()
	f.transition(Error, Idle, "ErrorCleared")
}
