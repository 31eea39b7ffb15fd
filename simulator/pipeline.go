// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package simulator wires the detector's FPGA-side and host-side
// components into one end-to-end pipeline: line buffer -> CSI-2
// generator (with backpressure) -> CSI-2 RX parser -> frame buffer
// manager -> UDP transmitter -> network -> host reassembler. It exists
// so the wire protocol can be exercised without real detector hardware,
// generalizing the teacher's producer-goroutine-plus-channel streaming
// loop (devices/lepton.Dev.ReadImg/readFrame) across the whole pipeline.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/flatpanel/detectorstream/clockdomain"
	"github.com/flatpanel/detectorstream/cmdproto"
	"github.com/flatpanel/detectorstream/config"
	"github.com/flatpanel/detectorstream/csi2"
	"github.com/flatpanel/detectorstream/framebuffer"
	"github.com/flatpanel/detectorstream/linebuffer"
	"github.com/flatpanel/detectorstream/reassembler"
	"github.com/flatpanel/detectorstream/seqfsm"
	"github.com/flatpanel/detectorstream/spireg"
	"github.com/flatpanel/detectorstream/udptransport"
)

// Pipeline owns one end-to-end simulated detector: frame generation,
// CSI-2 packetization, frame buffering, UDP transmission, and host-side
// reassembly, all driven by a sequence FSM.
type Pipeline struct {
	cfg       config.Config
	logger    *log.Logger
	fsm       *seqfsm.FSM
	regs      *spireg.Map
	fbm       *framebuffer.Manager
	lineBuf   *linebuffer.Buffer
	bp        *csi2.Backpressure
	clockSync clockdomain.Synchronizer
	adapter   *framebuffer.CSI2Adapter
	parser    *csi2.Parser
	gen       csi2.Generator
	tx        *udptransport.Transmitter
	reasm     *reassembler.Reassembler
	cmdServer *cmdproto.Server

	serverConn  net.PacketConn
	clientConn  net.PacketConn
	controlConn net.PacketConn

	crossDomainLatency time.Duration
}

// frameBytes returns the byte size of one full frame for cfg.
func frameBytes(cfg config.Config) int {
	return cfg.Rows * cfg.Cols * 2 // RAW16 samples are 2 bytes each
}

// NewPipeline constructs a Pipeline bound to a loopback UDP socket pair.
func NewPipeline(cfg config.Config, logger *log.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = log.Default()
	}

	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("simulator: listen data socket: %w", err)
	}
	clientConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		serverConn.Close()
		return nil, fmt.Errorf("simulator: dial data socket: %w", err)
	}
	controlConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		serverConn.Close()
		clientConn.Close()
		return nil, fmt.Errorf("simulator: listen control socket: %w", err)
	}

	fbm := framebuffer.NewManager(frameBytes(cfg), logger)
	adapter := framebuffer.NewCSI2Adapter(fbm, frameBytes(cfg))
	parser := csi2.NewParser(cfg.Cols, logger)
	tx := udptransport.NewTransmitter(clientConn, serverConn.LocalAddr(), udptransport.DefaultMaxPayload, logger)
	reasm := reassembler.New(reassembler.DefaultMaxConcurrentSlots, reassembler.DefaultTimeout, logger)
	regs := spireg.NewMap(1, logger)

	bridge := &registerBridge{regs: regs}
	fsm := seqfsm.New(bridge, logger)
	bridge.fsm = fsm

	p := &Pipeline{
		cfg:       cfg,
		logger:    logger,
		fsm:       fsm,
		regs:      regs,
		fbm:       fbm,
		lineBuf:   linebuffer.New(cfg.Cols),
		bp:        csi2.NewBackpressure(csi2.DefaultFIFODepth, csi2.DefaultBytesPerBeat),
		clockSync: clockdomain.Synchronizer{Dest: clockdomain.DomainCSI2, Stages: 2},
		adapter:   adapter,
		parser:    parser,
		gen:       csi2.Generator{VirtualChannel: 0},
		tx:        tx,
		reasm:     reasm,

		serverConn:  serverConn,
		clientConn:  clientConn,
		controlConn: controlConn,
	}
	p.cmdServer = p.newCommandServer()
	return p, nil
}

// Close releases the pipeline's UDP sockets.
func (p *Pipeline) Close() error {
	err1 := p.clientConn.Close()
	err2 := p.serverConn.Close()
	err3 := p.controlConn.Close()
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}
	return err3
}

// FSM returns the sequence FSM driving this pipeline.
func (p *Pipeline) FSM() *seqfsm.FSM { return p.fsm }

// Reassembler returns the host-side reassembler fed by this pipeline's
// transmitter.
func (p *Pipeline) Reassembler() *reassembler.Reassembler { return p.reasm }

// Registers returns the SPI-facing register file backing this pipeline's
// GetStatus/Reset command handlers.
func (p *Pipeline) Registers() *spireg.Map { return p.regs }

// ControlAddr returns the address a cmdproto.Client should dial to reach
// this pipeline's command server.
func (p *Pipeline) ControlAddr() net.Addr { return p.controlConn.LocalAddr() }

// BackpressureStallCycles returns the cumulative number of cycles the
// CSI-2 generator has stalled waiting for downstream FIFO room, since
// the pipeline was created.
func (p *Pipeline) BackpressureStallCycles() int {
	return p.bp.TotalStallCycles()
}

// CrossDomainLatency returns the cumulative ROIC->CSI2 synchronizer
// latency accumulated across every line handed through the line buffer,
// an observability counter modeling clock-domain-crossing cost.
func (p *Pipeline) CrossDomainLatency() time.Duration {
	return p.crossDomainLatency
}

// throughLineBuffer drives each ROIC line through the ping-pong line
// buffer and the CSI-2 backpressure model before it reaches the
// generator, mirroring the FPGA's clock-domain handoff: the readout
// clock writes a line, toggles banks, and the CSI-2 clock drains it one
// AXI-stream beat at a time, stalling when the downstream FIFO is full.
func (p *Pipeline) throughLineBuffer(lines [][]uint16) ([][]uint16, error) {
	out := make([][]uint16, 0, len(lines))
	for _, line := range lines {
		if err := p.lineBuf.WriteLine(line); err != nil {
			return nil, fmt.Errorf("simulator: line buffer: %w", err)
		}
		p.lineBuf.ToggleWriteBank()
		p.lineBuf.ToggleReadBank()
		read, err := p.lineBuf.ReadLine()
		if err != nil {
			return nil, fmt.Errorf("simulator: line buffer: %w", err)
		}

		remaining := len(read) * 2 // RAW16 bytes
		for remaining > 0 {
			if p.bp.Cycle(true) {
				remaining -= p.bp.BytesPerBeat
			} else {
				// PHY catches up only once backpressure is asserted.
				p.bp.Drain(p.bp.BytesPerBeat)
			}
		}
		p.bp.Drain(p.bp.FIFOLevel())
		p.crossDomainLatency += p.clockSync.Latency()

		out = append(out, read)
	}
	return out, nil
}

// randomFrame synthesizes rows*cols pixels of RAW16 noise, the
// simulator's stand-in for a real ROIC readout.
func randomFrame(cfg config.Config, rng *rand.Rand) [][]uint16 {
	mask := uint16(1<<uint(cfg.BitDepth)) - 1
	lines := make([][]uint16, cfg.Rows)
	for r := range lines {
		line := make([]uint16, cfg.Cols)
		for c := range line {
			line[c] = uint16(rng.Intn(int(mask) + 1))
		}
		lines[r] = line
	}
	return lines
}

// GenerateFrame runs one frame through CSI-2 generation, parsing into
// the frame buffer, and committing it Ready under frameNumber. It
// returns the first error from the line buffer or the parser.
func (p *Pipeline) GenerateFrame(frameNumber uint32, rng *rand.Rand) error {
	raw := randomFrame(p.cfg, rng)
	lines, err := p.throughLineBuffer(raw)
	if err != nil {
		return err
	}
	packets := p.gen.Generate(frameNumber, lines)
	for _, pkt := range packets {
		if err := p.parser.Feed(pkt, p.adapter); err != nil {
			return fmt.Errorf("simulator: feed packet: %w", err)
		}
	}
	return nil
}

// RunTransmitter starts the UDP transmitter loop, draining Ready slots
// until ctx is cancelled. It blocks; call it in its own goroutine.
func (p *Pipeline) RunTransmitter(ctx context.Context) error {
	return p.tx.Run(ctx, p.fbm)
}

// RunReceiver reads packets from the data socket and feeds them to the
// reassembler until ctx is cancelled, forwarding completed frames on
// the returned channel.
func (p *Pipeline) RunReceiver(ctx context.Context) <-chan reassembler.Result {
	out := make(chan reassembler.Result, 4)
	go func() {
		defer close(out)
		buf := make([]byte, 65536)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			p.serverConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			n, _, err := p.serverConn.ReadFrom(buf)
			if err != nil {
				continue
			}
			result := p.reasm.ProcessPacket(buf[:n])
			if result.Kind == reassembler.Complete || result.Kind == reassembler.Partial {
				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// RunScan drives the FSM through one scan cycle of one synthetic frame
// in the configured scan mode: StartScan, generate, FrameReady,
// Complete. A Single-mode scan ends in Idle; Continuous and Calibration
// scans end back in Scanning, where the next StartScan is ignored.
func (p *Pipeline) RunScan(frameNumber uint32, rng *rand.Rand) error {
	p.fsm.StartScan(p.cfg.ScanMode)
	if err := p.GenerateFrame(frameNumber, rng); err != nil {
		p.fsm.RaiseError()
		return err
	}
	p.fsm.FrameReady()
	p.fsm.Complete()
	return nil
}
