package cmdproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-hmac-key-0123456789abcdef")

func TestEncodeDecodeRoundTripViaServer(t *testing.T) {
	s := NewServer(testKey, nil)
	var gotPayload []byte
	s.Register(CmdStartScan, func(payload []byte) (Status, []byte) {
		gotPayload = payload
		return StatusOk, []byte("ack")
	})

	raw := EncodeCommand(testKey, 1, CmdStartScan, []byte("mode=single"))
	resp := s.Handle("client-a", raw)

	frame, err := decodeFrame(resp)
	require.NoError(t, err)
	assert.Equal(t, ResponseMagic, frame.magic)
	assert.Equal(t, Status(frame.field), StatusOk)
	assert.Equal(t, []byte("ack"), frame.payload)
	assert.Equal(t, []byte("mode=single"), gotPayload)
}

func TestBadMagicIsInvalidCmdAndCountsAuthFailure(t *testing.T) {
	s := NewServer(testKey, nil)
	raw := EncodeCommand(testKey, 1, CmdStartScan, nil)
	raw[0] ^= 0xFF // corrupt magic

	resp := s.Handle("client-a", raw)
	frame, err := decodeFrame(resp)
	require.NoError(t, err)
	assert.Equal(t, Status(frame.field), StatusInvalidCmd)
	assert.Equal(t, uint64(1), s.AuthFailures())
}

func TestBadHMACIsAuthFailedAndCountsAuthFailure(t *testing.T) {
	s := NewServer(testKey, nil)
	raw := EncodeCommand([]byte("wrong-key-xxxxxxxxxxxxxxxxxxxxxx"), 1, CmdStartScan, nil)

	resp := s.Handle("client-a", raw)
	frame, err := decodeFrame(resp)
	require.NoError(t, err)
	assert.Equal(t, Status(frame.field), StatusAuthFailed)
	assert.Equal(t, uint64(1), s.AuthFailures())
}

// TestReplayRejection is scenario S7: after accepting sequence 5, a
// signed message with sequence 5 or 3 returns Replay; sequence 6 is
// accepted. Replays must not increment the auth-failure counter
// (invariant #5).
func TestReplayRejection(t *testing.T) {
	s := NewServer(testKey, nil)
	s.Register(CmdGetStatus, func(payload []byte) (Status, []byte) { return StatusOk, nil })

	accept := func(seq uint32) Status {
		raw := EncodeCommand(testKey, seq, CmdGetStatus, nil)
		resp := s.Handle("client-a", raw)
		frame, err := decodeFrame(resp)
		require.NoError(t, err)
		return Status(frame.field)
	}

	assert.Equal(t, StatusOk, accept(5))
	assert.Equal(t, StatusReplay, accept(5))
	assert.Equal(t, StatusReplay, accept(3))
	assert.Equal(t, StatusOk, accept(6))
	assert.Zero(t, s.AuthFailures())
}

func TestFirstSequenceZeroIsAccepted(t *testing.T) {
	s := NewServer(testKey, nil)
	s.Register(CmdGetStatus, func(payload []byte) (Status, []byte) { return StatusOk, nil })

	raw := EncodeCommand(testKey, 0, CmdGetStatus, nil)
	resp := s.Handle("client-a", raw)
	frame, err := decodeFrame(resp)
	require.NoError(t, err)
	assert.Equal(t, StatusOk, Status(frame.field))
}

func TestUnregisteredCommandIsInvalidCmd(t *testing.T) {
	s := NewServer(testKey, nil)
	raw := EncodeCommand(testKey, 1, CmdReset, nil)
	resp := s.Handle("client-a", raw)
	frame, err := decodeFrame(resp)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidCmd, Status(frame.field))
}

// TestUnregisteredCommandDoesNotConsumeSequence guards against a command
// with no registered handler advancing last_accepted: a later, real
// command at the same sequence must still be dispatched rather than
// rejected as Replay.
func TestUnregisteredCommandDoesNotConsumeSequence(t *testing.T) {
	s := NewServer(testKey, nil)
	s.Register(CmdGetStatus, func(payload []byte) (Status, []byte) { return StatusOk, nil })

	unregistered := EncodeCommand(testKey, 5, CmdReset, nil)
	resp := s.Handle("client-a", unregistered)
	frame, err := decodeFrame(resp)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidCmd, Status(frame.field))

	retry := EncodeCommand(testKey, 5, CmdGetStatus, nil)
	resp = s.Handle("client-a", retry)
	frame, err = decodeFrame(resp)
	require.NoError(t, err)
	assert.Equal(t, StatusOk, Status(frame.field), "sequence 5 must still be dispatchable: no prior dispatch ever succeeded")
}

func TestReplayGuardsArePerClient(t *testing.T) {
	s := NewServer(testKey, nil)
	s.Register(CmdGetStatus, func(payload []byte) (Status, []byte) { return StatusOk, nil })

	send := func(client string, seq uint32) Status {
		raw := EncodeCommand(testKey, seq, CmdGetStatus, nil)
		resp := s.Handle(client, raw)
		frame, _ := decodeFrame(resp)
		return Status(frame.field)
	}

	assert.Equal(t, StatusOk, send("a", 5))
	assert.Equal(t, StatusOk, send("b", 5), "client b's sequence space is independent of client a's")
}
