// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package simulator

import (
	"github.com/flatpanel/detectorstream/seqfsm"
	"github.com/flatpanel/detectorstream/spireg"
)

// registerBridge implements seqfsm.ProtectionLogic by mirroring scan
// lifecycle transitions into the SPI-facing register file, then
// immediately self-advancing the FSM the way the simulator's standalone
// mode would: there is no real SPI-master collaborator driving Configure/
// Arm in this toolchain, only the register bookkeeping it would perform.
type registerBridge struct {
	regs *spireg.Map
	fsm  *seqfsm.FSM
}

func (b *registerBridge) OnConfigure(mode seqfsm.Mode) {
	b.regs.ClearStatusBits(spireg.StatusIdle)
	b.regs.SetStatusBits(spireg.StatusBusy)
	b.fsm.ConfigDone()
}

func (b *registerBridge) OnArm() {
	b.fsm.ArmDone()
}

func (b *registerBridge) OnError(prev seqfsm.State) {
	b.regs.RaiseErrorFlags(1)
}

func (b *registerBridge) OnStop() {
	b.regs.ClearStatusBits(spireg.StatusBusy)
	b.regs.SetStatusBits(spireg.StatusIdle)
}

func (b *registerBridge) SafetyShutdown(reason string) {
	b.regs.RaiseErrorFlags(1)
}
