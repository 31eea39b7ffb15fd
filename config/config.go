// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config defines the detector's configuration surface: the
// fields spec.md §6 enumerates, their valid ranges, and the hot/cold
// classification that decides whether a changed field can be applied
// while a scan is in progress.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/flatpanel/detectorstream/seqfsm"
)

// Config is the full detector configuration surface.
type Config struct {
	Rows              int         `yaml:"rows"`                  // cold, 128..4096
	Cols              int         `yaml:"cols"`                  // cold, 128..4096
	BitDepth          int         `yaml:"bit_depth"`              // cold, {14,16}
	FrameRate         int         `yaml:"frame_rate"`             // hot,  1..60
	SPISpeedHz        int         `yaml:"spi_speed_hz"`           // cold, 1e6..5e7
	SPIMode           int         `yaml:"spi_mode"`               // cold, 0..3
	CSI2LaneSpeedMbps int         `yaml:"csi2_lane_speed_mbps"`   // cold, {400,800}
	CSI2Lanes         int         `yaml:"csi2_lanes"`             // cold, 1..4
	HostIP            string      `yaml:"host_ip"`                // hot
	DataPort          int         `yaml:"data_port"`              // hot, 1024..65535
	ControlPort       int         `yaml:"control_port"`           // hot, 1024..65535
	SendBufferSize    int         `yaml:"send_buffer_size"`
	ScanMode          seqfsm.Mode `yaml:"scan_mode"`
	LogLevel          string      `yaml:"log_level"`              // hot
	CommandKey        string      `yaml:"command_key"`            // hot, HMAC-SHA256 key for cmdproto
}

// Default returns a Config populated with reasonable defaults for the
// simulator.
func Default() Config {
	return Config{
		Rows:              2048,
		Cols:              2048,
		BitDepth:          16,
		FrameRate:          10,
		SPISpeedHz:         10_000_000,
		SPIMode:            0,
		CSI2LaneSpeedMbps:  800,
		CSI2Lanes:          4,
		HostIP:             "127.0.0.1",
		DataPort:           8000,
		ControlPort:        8001,
		SendBufferSize:     1 << 20,
		ScanMode:           seqfsm.Single,
		LogLevel:           "info",
		CommandKey:         "xray-simulator-default-hmac-key",
	}
}

// Load reads and parses a YAML configuration file, starting from
// Default() so any field the file omits keeps its default value.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate enforces the ranges spec.md §6 states for each field.
func (c Config) Validate() error {
	if c.Rows < 128 || c.Rows > 4096 {
		return fmt.Errorf("config: rows %d out of range [128,4096]", c.Rows)
	}
	if c.Cols < 128 || c.Cols > 4096 {
		return fmt.Errorf("config: cols %d out of range [128,4096]", c.Cols)
	}
	if c.BitDepth != 14 && c.BitDepth != 16 {
		return fmt.Errorf("config: bit_depth %d must be 14 or 16", c.BitDepth)
	}
	if c.FrameRate < 1 || c.FrameRate > 60 {
		return fmt.Errorf("config: frame_rate %d out of range [1,60]", c.FrameRate)
	}
	if c.SPISpeedHz < 1_000_000 || c.SPISpeedHz > 50_000_000 {
		return fmt.Errorf("config: spi_speed_hz %d out of range [1e6,5e7]", c.SPISpeedHz)
	}
	if c.SPIMode < 0 || c.SPIMode > 3 {
		return fmt.Errorf("config: spi_mode %d out of range [0,3]", c.SPIMode)
	}
	if c.CSI2LaneSpeedMbps != 400 && c.CSI2LaneSpeedMbps != 800 {
		return fmt.Errorf("config: csi2_lane_speed_mbps %d must be 400 or 800", c.CSI2LaneSpeedMbps)
	}
	if c.CSI2Lanes < 1 || c.CSI2Lanes > 4 {
		return fmt.Errorf("config: csi2_lanes %d out of range [1,4]", c.CSI2Lanes)
	}
	if c.DataPort < 1024 || c.DataPort > 65535 {
		return fmt.Errorf("config: data_port %d out of range [1024,65535]", c.DataPort)
	}
	if c.ControlPort < 1024 || c.ControlPort > 65535 {
		return fmt.Errorf("config: control_port %d out of range [1024,65535]", c.ControlPort)
	}
	return nil
}

// coldFieldsEqual reports whether a and b agree on every field this
// package classifies cold (spec.md §6): changing any of them requires
// the scan to be stopped first.
func coldFieldsEqual(a, b Config) bool {
	return a.Rows == b.Rows &&
		a.Cols == b.Cols &&
		a.BitDepth == b.BitDepth &&
		a.SPISpeedHz == b.SPISpeedHz &&
		a.SPIMode == b.SPIMode &&
		a.CSI2LaneSpeedMbps == b.CSI2LaneSpeedMbps &&
		a.CSI2Lanes == b.CSI2Lanes
}

// ErrColdChangeWhileScanning is returned by Apply when next differs from
// current in a cold field and scanStopped is false.
type ErrColdChangeWhileScanning struct{}

func (ErrColdChangeWhileScanning) Error() string {
	return "config: cold parameter changed while scan is running"
}

// Apply validates next and, if it differs from current in any cold
// field, requires scanStopped to be true (the caller is expected to
// pass seqfsm.FSM.State() == seqfsm.Idle). Hot fields (frame_rate,
// host_ip, data_port, control_port, log_level) may change regardless of
// scan state.
func Apply(current, next Config, scanStopped bool) (Config, error) {
	if err := next.Validate(); err != nil {
		return Config{}, err
	}
	if !coldFieldsEqual(current, next) && !scanStopped {
		return Config{}, ErrColdChangeWhileScanning{}
	}
	return next, nil
}
