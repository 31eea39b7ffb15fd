// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package simulator

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/flatpanel/detectorstream/cmdproto"
	"github.com/flatpanel/detectorstream/config"
	"github.com/flatpanel/detectorstream/seqfsm"
	"github.com/flatpanel/detectorstream/spireg"
)

// newCommandServer builds the authenticated command-channel server this
// pipeline exposes on its control socket, dispatching each command_id to
// the FSM, register file, or configuration surface it targets.
func (p *Pipeline) newCommandServer() *cmdproto.Server {
	s := cmdproto.NewServer([]byte(p.cfg.CommandKey), p.logger)

	s.Register(cmdproto.CmdStartScan, func(payload []byte) (cmdproto.Status, []byte) {
		mode := p.cfg.ScanMode
		if len(payload) >= 1 {
			mode = seqfsm.Mode(payload[0])
		}
		if p.fsm.State() != seqfsm.Idle && p.fsm.State() != seqfsm.Complete {
			return cmdproto.StatusBusy, nil
		}
		p.fsm.StartScan(mode)
		return cmdproto.StatusOk, nil
	})

	s.Register(cmdproto.CmdStopScan, func(payload []byte) (cmdproto.Status, []byte) {
		p.fsm.StopScan()
		return cmdproto.StatusOk, nil
	})

	s.Register(cmdproto.CmdGetStatus, func(payload []byte) (cmdproto.Status, []byte) {
		out := make([]byte, 8)
		binary.BigEndian.PutUint16(out[0:2], p.regs.Read(spireg.Status))
		binary.BigEndian.PutUint16(out[2:4], p.regs.ErrorFlags())
		binary.BigEndian.PutUint32(out[4:8], p.regs.FrameCount())
		return cmdproto.StatusOk, out
	})

	s.Register(cmdproto.CmdSetConfig, func(payload []byte) (cmdproto.Status, []byte) {
		if len(payload) < 4 {
			return cmdproto.StatusError, nil
		}
		next := p.cfg
		next.FrameRate = int(binary.BigEndian.Uint32(payload[0:4]))
		applied, err := config.Apply(p.cfg, next, p.fsm.State() == seqfsm.Idle)
		if err != nil {
			return cmdproto.StatusError, nil
		}
		p.cfg = applied
		return cmdproto.StatusOk, nil
	})

	s.Register(cmdproto.CmdReset, func(payload []byte) (cmdproto.Status, []byte) {
		p.fsm.StopScan()
		p.regs.ClearStatusBits(spireg.StatusError)
		p.regs.Write(spireg.Control, spireg.ControlErrorClear)
		return cmdproto.StatusOk, nil
	})

	return s
}

// RunCommandServer reads authenticated command frames from the control
// socket and replies in place until ctx is cancelled. It blocks; call it
// in its own goroutine.
func (p *Pipeline) RunCommandServer(ctx context.Context) error {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.controlConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := p.controlConn.ReadFrom(buf)
		if err != nil {
			continue
		}
		resp := p.cmdServer.Handle(addr.String(), buf[:n])
		if _, err := p.controlConn.WriteTo(resp, addr); err != nil {
			p.logger.Warn("command server: write response failed", "err", err)
		}
	}
}
