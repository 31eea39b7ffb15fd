// Copyright 2026 The Detectorstream Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package framebuffer

// CSI2Adapter adapts a Manager to the shape the csi2 package expects of
// its frame buffer collaborator (csi2.FrameBufferManager), without this
// package importing csi2 — structural typing avoids the import cycle a
// named dependency would otherwise create. frameBytes is the full
// per-frame size in bytes (width * height * bytesPerPixel); the parser
// writes directly into the slot's backing array, so the adapter commits
// the slot at its known full size rather than a size reported back by
// the parser.
type CSI2Adapter struct {
	mgr        *Manager
	frameBytes int
}

// NewCSI2Adapter returns an adapter over mgr for frames of frameBytes
// bytes each.
func NewCSI2Adapter(mgr *Manager, frameBytes int) *CSI2Adapter {
	return &CSI2Adapter{mgr: mgr, frameBytes: frameBytes}
}

// Acquire satisfies csi2.FrameBufferManager.
func (a *CSI2Adapter) Acquire(frameNumber uint32) ([]byte, int, error) {
	data, size := a.mgr.Acquire(frameNumber)
	return data, size, nil
}

// Commit satisfies csi2.FrameBufferManager.
func (a *CSI2Adapter) Commit(frameNumber uint32) error {
	return a.mgr.Commit(frameNumber, a.frameBytes)
}
