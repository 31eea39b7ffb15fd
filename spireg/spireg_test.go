package spireg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMapPopulatesReadOnlyDefaults(t *testing.T) {
	m := NewMap(0x0102, nil)
	assert.Equal(t, DeviceIDValue, m.Read(DeviceID))
	assert.Equal(t, uint16(0x0102), m.Read(Version))
	assert.Equal(t, StatusIdle, m.Read(Status))
}

func TestWriteToReadOnlyIsSilentlyIgnored(t *testing.T) {
	m := NewMap(0, nil)
	m.Write(DeviceID, 0xFFFF)
	assert.Equal(t, DeviceIDValue, m.Read(DeviceID))
}

func TestWriteToControlIsApplied(t *testing.T) {
	m := NewMap(0, nil)
	m.Write(Control, ControlStart)
	assert.Equal(t, ControlStart, m.Read(Control))
}

func TestErrorClearIsAtomicWithStatus(t *testing.T) {
	m := NewMap(0, nil)
	m.RaiseErrorFlags(0x0001)
	assert.NotZero(t, m.ErrorFlags())
	assert.NotZero(t, m.Read(Status)&StatusError)

	m.Write(Control, ControlErrorClear)
	assert.Zero(t, m.ErrorFlags())
	assert.Zero(t, m.Read(Status)&StatusError)
}

func TestFrameCountCombinesHiLo(t *testing.T) {
	m := NewMap(0, nil)
	m.SetFrameCount(0x0001_0002)
	assert.Equal(t, uint32(0x0001_0002), m.FrameCount())
	assert.True(t, ReadOnly(FrameCountHi))
	assert.True(t, ReadOnly(FrameCountLo))
}

func TestStatusBitHelpers(t *testing.T) {
	m := NewMap(0, nil)
	m.SetStatusBits(StatusBusy)
	assert.NotZero(t, m.Read(Status)&StatusBusy)
	m.ClearStatusBits(StatusBusy)
	assert.Zero(t, m.Read(Status)&StatusBusy)
}
