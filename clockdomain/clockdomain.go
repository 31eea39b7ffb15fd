// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package clockdomain models the named clock domains of the FPGA line
// pipeline (SYS, ROIC, CSI-2 byte clock) and the latency a signal
// experiences crossing between two of them through a synchronizer.
package clockdomain

import "time"

// Frequency is a clock rate, stored as micro-Hertz, mirroring the
// fixed-point representation used for other strongly-typed electrical
// units in this codebase.
type Frequency int64

// Hertz is one cycle per second.
const Hertz Frequency = 1000000

// MHz is one million cycles per second.
const MHz Frequency = 1000000 * Hertz

// Period returns the duration of one clock cycle at this frequency.
func (f Frequency) Period() time.Duration {
	if f <= 0 {
		return 0
	}
	return time.Second * time.Duration(Hertz) / time.Duration(f)
}

// Ticks returns how many whole cycles of this clock elapse in d.
func (f Frequency) Ticks(d time.Duration) uint64 {
	period := f.Period()
	if period <= 0 {
		return 0
	}
	return uint64(d / period)
}

// Named clock domains of the FPGA line pipeline.
const (
	SYS  Frequency = 100 * MHz
	ROIC Frequency = 50 * MHz
	CSI2 Frequency = 125 * MHz // CSI-2 byte clock.
)

// Domain identifies one of the named clocks above, for logging and for
// selecting a conversion rate without repeating the Frequency constant at
// every call site.
type Domain uint8

// Valid values of Domain.
const (
	DomainSYS Domain = iota
	DomainROIC
	DomainCSI2
)

func (d Domain) String() string {
	switch d {
	case DomainSYS:
		return "SYS"
	case DomainROIC:
		return "ROIC"
	case DomainCSI2:
		return "CSI2"
	default:
		return "Unknown"
	}
}

// Frequency returns the nominal clock rate for d.
func (d Domain) Frequency() Frequency {
	switch d {
	case DomainSYS:
		return SYS
	case DomainROIC:
		return ROIC
	case DomainCSI2:
		return CSI2
	default:
		return 0
	}
}

// Synchronizer models a multi-stage flip-flop synchronizer used to cross a
// signal from one clock domain into another. A signal asserted in the
// source domain is observed in the destination domain stages+1 destination
// clock ticks later.
type Synchronizer struct {
	Dest   Domain
	Stages int // Number of synchronizer flip-flop stages, typically 2.
}

// Latency returns the wall-clock delay between a source domain event and
// its observation on the destination side of the synchronizer.
func (s Synchronizer) Latency() time.Duration {
	stages := s.Stages
	if stages < 0 {
		stages = 0
	}
	period := s.Dest.Frequency().Period()
	return period * time.Duration(stages+1)
}

// ObservedAt returns the destination-domain time at which a source event
// occurring at sourceTime becomes observable, accounting for synchronizer
// latency.
func (s Synchronizer) ObservedAt(sourceTime time.Time) time.Time {
	return sourceTime.Add(s.Latency())
}
