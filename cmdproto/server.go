// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cmdproto

import (
	"crypto/hmac"
	"sync"

	"github.com/charmbracelet/log"
)

// Handler processes one dispatched command's payload and returns the
// response status and payload.
type Handler func(payload []byte) (Status, []byte)

// Server validates inbound command frames (magic, then HMAC, then
// anti-replay, in that strict order) and dispatches authenticated ones
// to a registered Handler.
type Server struct {
	key      []byte
	handlers map[CommandID]Handler
	logger   *log.Logger

	mu           sync.Mutex
	guards       map[string]*replayGuard
	authFailures uint64
}

// NewServer returns a Server that verifies frames with key.
func NewServer(key []byte, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		key:      key,
		handlers: make(map[CommandID]Handler),
		guards:   make(map[string]*replayGuard),
		logger:   logger,
	}
}

// Register binds a Handler to a CommandID.
func (s *Server) Register(id CommandID, h Handler) {
	s.handlers[id] = h
}

// AuthFailures returns the count of rejections for a frame too short to
// decode, a bad magic, or a bad HMAC. Replays are deliberately excluded
// (spec.md §8 invariant #5).
func (s *Server) AuthFailures() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authFailures
}

func (s *Server) guardFor(clientID string) *replayGuard {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[clientID]
	if !ok {
		g = &replayGuard{}
		s.guards[clientID] = g
	}
	return g
}

func (s *Server) bumpAuthFailures() {
	s.mu.Lock()
	s.authFailures++
	s.mu.Unlock()
}

// Handle validates and dispatches one inbound command frame from
// clientID (typically the sender's address), returning the wire-encoded
// response frame.
func (s *Server) Handle(clientID string, raw []byte) []byte {
	frame, err := decodeFrame(raw)
	if err != nil {
		s.bumpAuthFailures()
		return EncodeResponse(s.key, 0, StatusInvalidCmd, nil)
	}

	// 1. Magic.
	if frame.magic != CommandMagic {
		s.bumpAuthFailures()
		s.logger.Warn("rejected command: bad magic", "client", clientID, "magic", frame.magic)
		return EncodeResponse(s.key, frame.sequence, StatusInvalidCmd, nil)
	}

	// 2. HMAC, constant-time.
	want := sign(s.key, CommandMagic, frame.sequence, frame.field, frame.payload)
	if !hmac.Equal(want[:], frame.mac[:]) {
		s.bumpAuthFailures()
		s.logger.Warn("rejected command: HMAC mismatch", "client", clientID, "sequence", frame.sequence)
		return EncodeResponse(s.key, frame.sequence, StatusAuthFailed, nil)
	}

	// 3. Anti-replay. Does not increment the auth-failure counter. Only a
	// peek here: last_accepted is committed below, once dispatch actually
	// happens, so an unregistered command_id never consumes a sequence.
	guard := s.guardFor(clientID)
	if !guard.accepts(frame.sequence) {
		s.logger.Info("rejected command: replay", "client", clientID, "sequence", frame.sequence)
		return EncodeResponse(s.key, frame.sequence, StatusReplay, nil)
	}

	id := CommandID(frame.field)
	handler, ok := s.handlers[id]
	if !ok {
		return EncodeResponse(s.key, frame.sequence, StatusInvalidCmd, nil)
	}
	guard.commit(frame.sequence)
	status, payload := handler(frame.payload)
	return EncodeResponse(s.key, frame.sequence, status, payload)
}
