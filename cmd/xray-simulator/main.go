// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command xray-simulator runs the end-to-end detector pipeline
// simulator: synthetic frames flow through CSI-2 packetization, frame
// buffering, UDP transmission, and host-side reassembly, driven by the
// sequence FSM at a configured frame rate.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/flatpanel/detectorstream/config"
	"github.com/flatpanel/detectorstream/simulator"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to a YAML configuration file (optional; defaults used otherwise).")
		frameCount = pflag.IntP("frames", "n", 10, "Number of frames to simulate before exiting (0 runs until interrupted).")
		frameRate  = pflag.IntP("frame-rate", "r", 0, "Override the configured frame rate in Hz (0 keeps the config value).")
		logLevel   = pflag.StringP("log-level", "l", "", "Override the configured log level (debug, info, warn, error).")
		help       = pflag.BoolP("help", "h", false, "Display help text.")
	)
	pflag.Parse()

	if *help {
		fmt.Fprintln(os.Stderr, "xray-simulator: exercise the detector frame pipeline end to end.")
		pflag.PrintDefaults()
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "xray-simulator:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *frameRate > 0 {
		cfg.FrameRate = *frameRate
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	if err := run(cfg, *frameCount, logger); err != nil {
		logger.Error("simulator exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, frameCount int, logger *log.Logger) error {
	pipeline, err := simulator.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()
	logger.Info("command channel listening", "addr", pipeline.ControlAddr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := pipeline.RunTransmitter(ctx); err != nil && ctx.Err() == nil {
			logger.Error("transmitter stopped", "err", err)
		}
	}()
	go func() {
		if err := pipeline.RunCommandServer(ctx); err != nil && ctx.Err() == nil {
			logger.Error("command server stopped", "err", err)
		}
	}()
	results := pipeline.RunReceiver(ctx)

	period := time.Second / time.Duration(cfg.FrameRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(1))
	var frameNumber uint32
	sent := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case result, ok := <-results:
			if !ok {
				return nil
			}
			logger.Info("frame reassembled", "kind", result.Kind, "frame_number", result.FrameNumber, "samples", len(result.Pixels))
		case <-ticker.C:
			if frameCount > 0 && sent >= frameCount {
				return nil
			}
			if err := pipeline.RunScan(frameNumber, rng); err != nil {
				logger.Error("scan failed", "frame_number", frameNumber, "err", err)
			}
			frameNumber++
			sent++
		}
	}
}
