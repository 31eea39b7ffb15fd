package csi2

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSequenceShape(t *testing.T) {
	g := Generator{VirtualChannel: 1}
	lines := [][]uint16{{1, 2}, {3, 4}}
	pkts := g.Generate(7, lines)

	require.Len(t, pkts, 2+3*len(lines))
	assert.Equal(t, FrameStart, pkts[0].Kind)
	assert.Equal(t, uint32(7), pkts[0].FrameNumber)
	assert.Equal(t, LineStart, pkts[1].Kind)
	assert.Equal(t, LineData, pkts[2].Kind)
	assert.Equal(t, RAW16, pkts[2].DataType)
	assert.Equal(t, LineEnd, pkts[3].Kind)
	assert.Equal(t, FrameEnd, pkts[len(pkts)-1].Kind)
	assert.Equal(t, uint32(7), pkts[len(pkts)-1].FrameNumber)

	for _, pkt := range pkts {
		if pkt.Kind == LineData {
			assert.NoError(t, pkt.Validate())
		}
	}
}

func TestValidateRejectsCorruptCRC(t *testing.T) {
	p := Packet{Kind: LineData, Pixels: []uint16{1, 2}, CRC16: 0}
	assert.Error(t, p.Validate())
}

func TestValidateRejectsBadVirtualChannel(t *testing.T) {
	p := Packet{VirtualChannel: 4}
	assert.Error(t, p.Validate())
}

type fakeFBM struct {
	buf       []byte
	acquireFn func(uint32) error
	committed []uint32
}

func (f *fakeFBM) Acquire(frameNumber uint32) ([]byte, int, error) {
	if f.acquireFn != nil {
		if err := f.acquireFn(frameNumber); err != nil {
			return nil, 0, err
		}
	}
	return f.buf, len(f.buf), nil
}

func (f *fakeFBM) Commit(frameNumber uint32) error {
	f.committed = append(f.committed, frameNumber)
	return nil
}

func TestParserFeedsCompleteFrame(t *testing.T) {
	width := 2
	fbm := &fakeFBM{buf: make([]byte, width*2*2)} // 2 lines
	p := NewParser(width, nil)

	gen := Generator{}
	pkts := gen.Generate(3, [][]uint16{{0x0100, 0x0200}, {0x0300, 0x0400}})
	for _, pkt := range pkts {
		require.NoError(t, p.Feed(pkt, fbm))
	}
	assert.Equal(t, []uint32{3}, fbm.committed)
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00}, fbm.buf)
	assert.Zero(t, p.LinesDropped())
}

func TestParserDropsLineOnCRCMismatch(t *testing.T) {
	width := 1
	fbm := &fakeFBM{buf: make([]byte, width*2)}
	p := NewParser(width, nil)

	require.NoError(t, p.Feed(Packet{Kind: FrameStart, FrameNumber: 1}, fbm))
	bad := Packet{Kind: LineData, LineNumber: 0, Pixels: []uint16{0x1234}, CRC16: 0xFFFF}
	require.NoError(t, p.Feed(bad, fbm))
	assert.Equal(t, uint64(1), p.LinesDropped())
	require.NoError(t, p.Feed(Packet{Kind: FrameEnd, FrameNumber: 1}, fbm))
	assert.Equal(t, []uint32{1}, fbm.committed)
}

func TestParserFrameEndMismatchErrors(t *testing.T) {
	fbm := &fakeFBM{buf: make([]byte, 4)}
	p := NewParser(2, nil)
	require.NoError(t, p.Feed(Packet{Kind: FrameStart, FrameNumber: 1}, fbm))
	err := p.Feed(Packet{Kind: FrameEnd, FrameNumber: 2}, fbm)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, err)) // sanity: non-nil error is comparable
}
