package reassembler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flatpanel/detectorstream/udptransport"
)

func packetFor(frameNumber uint32, index, total int, pixels []uint16) []byte {
	payload := make([]byte, len(pixels)*2)
	for i, px := range pixels {
		payload[i*2] = byte(px >> 8)
		payload[i*2+1] = byte(px)
	}
	h := udptransport.Header{
		FrameNumber:  frameNumber,
		PacketIndex:  uint16(index),
		TotalPackets: uint16(total),
		PayloadLen:   uint16(len(payload)),
	}
	pkt := append(h.Encode(), payload...)
	return pkt
}

func TestShortPacketIsCrcError(t *testing.T) {
	r := New(0, 0, nil)
	result := r.ProcessPacket(make([]byte, 4))
	assert.Equal(t, CrcError, result.Kind)
}

func TestCorruptHeaderIsCrcErrorAndDoesNotCreateSlot(t *testing.T) {
	r := New(0, 0, nil)
	pkt := packetFor(1, 0, 2, []uint16{0xAAAA})
	pkt[5] ^= 0xFF

	result := r.ProcessPacket(pkt)
	assert.Equal(t, CrcError, result.Kind)
	assert.Zero(t, r.SlotCount())
}

func TestSingleFrameCompletes(t *testing.T) {
	r := New(0, 0, nil)
	pkt := packetFor(9, 0, 1, []uint16{0x0100, 0x0200, 0x0300, 0x0400})

	result := r.ProcessPacket(pkt)
	assert.Equal(t, Complete, result.Kind)
	assert.Equal(t, []uint16{0x0100, 0x0200, 0x0300, 0x0400}, result.Pixels)
	assert.Zero(t, r.SlotCount())
}

// TestOutOfOrderAndDuplicate is scenario S4: packets in order 2,0,3,1,0
// yield exactly one Complete; the duplicate index 0 is ignored.
func TestOutOfOrderAndDuplicate(t *testing.T) {
	r := New(0, 0, nil)
	const frameNumber = 4
	const total = 4
	pixelsFor := func(i int) []uint16 { return []uint16{uint16(i), uint16(i + 100)} }

	order := []int{2, 0, 3, 1, 0}
	var completions int
	var lastResult Result
	for _, idx := range order {
		result := r.ProcessPacket(packetFor(frameNumber, idx, total, pixelsFor(idx)))
		if result.Kind == Complete {
			completions++
			lastResult = result
		}
	}

	require.Equal(t, 1, completions)
	assert.Len(t, lastResult.Pixels, total*2)
	for i := 0; i < total; i++ {
		want := pixelsFor(i)
		got := lastResult.Pixels[i*2 : i*2+2]
		assert.Equal(t, want, got)
	}
}

func TestDuplicatePacketIgnoredBeforeCompletion(t *testing.T) {
	r := New(0, 0, nil)
	first := packetFor(1, 0, 2, []uint16{1, 2})
	res := r.ProcessPacket(first)
	assert.Equal(t, Processing, res.Kind)

	dup := r.ProcessPacket(first)
	assert.Equal(t, Processing, dup.Kind)
	assert.Equal(t, 1, r.SlotCount())
}

// TestTimeoutPartialZeroFillsViaSweep is scenario S5 with a 50ms timeout
// in place of the 500ms default: send 2 of 4 packets, advance time past
// the timeout, and a Sweep yields Partial with missing positions
// zero-filled.
func TestTimeoutPartialZeroFillsViaSweep(t *testing.T) {
	r := New(0, 50*time.Millisecond, nil)
	const frameNumber = 7
	const total = 4

	start := time.Now()
	r.processPacketAt(packetFor(frameNumber, 0, total, []uint16{1, 2}), start)
	r.processPacketAt(packetFor(frameNumber, 2, total, []uint16{5, 6}), start)
	require.Equal(t, 1, r.SlotCount())

	results := r.sweepAt(start.Add(100 * time.Millisecond))
	require.Len(t, results, 1)
	assert.Equal(t, Partial, results[0].Kind)
	assert.Equal(t, uint32(frameNumber), results[0].FrameNumber)
	assert.Equal(t, []uint16{1, 2, 0, 0, 5, 6, 0, 0}, results[0].Pixels)
	assert.Zero(t, r.SlotCount())
}

func TestTimeoutPartialViaProcessPacket(t *testing.T) {
	r := New(0, 50*time.Millisecond, nil)
	const frameNumber = 7
	const total = 3

	start := time.Now()
	r.processPacketAt(packetFor(frameNumber, 0, total, []uint16{9}), start)

	// A second packet for the same slot, arriving after the timeout,
	// is itself the call that notices the slot is stale and finalizes
	// it as Partial (step 9 of ProcessPacket, not just the janitor).
	late := start.Add(100 * time.Millisecond)
	stale := r.processPacketAt(packetFor(frameNumber, 1, total, []uint16{10}), late)
	assert.Equal(t, Partial, stale.Kind)
	assert.Equal(t, []uint16{9, 10, 0}, stale.Pixels)
}

func TestCompletedResultSampleCountMatchesInvariant(t *testing.T) {
	r := New(0, 0, nil)
	const frameNumber = 1
	const total = 3
	const pixelsPerPacket = 2

	var last Result
	for i := 0; i < total; i++ {
		last = r.ProcessPacket(packetFor(frameNumber, i, total, []uint16{uint16(i), uint16(i)}))
	}
	assert.Equal(t, Complete, last.Kind)
	assert.Len(t, last.Pixels, total*pixelsPerPacket)
}

func TestOldestSlotEvictedAtCapacity(t *testing.T) {
	r := New(2, time.Hour, nil)
	r.ProcessPacket(packetFor(1, 0, 2, []uint16{1, 2}))
	r.ProcessPacket(packetFor(2, 0, 2, []uint16{3, 4}))
	require.Equal(t, 2, r.SlotCount())

	r.ProcessPacket(packetFor(3, 0, 2, []uint16{5, 6}))
	assert.Equal(t, 2, r.SlotCount(), "slot count never exceeds MAX_CONCURRENT_SLOTS")
}
