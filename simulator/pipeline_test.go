package simulator

import (
	"context"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flatpanel/detectorstream/cmdproto"
	"github.com/flatpanel/detectorstream/config"
	"github.com/flatpanel/detectorstream/reassembler"
	"github.com/flatpanel/detectorstream/seqfsm"
)

func smallConfig() config.Config {
	c := config.Default()
	c.Rows = 4
	c.Cols = 4
	c.FrameRate = 10
	return c
}

func TestGenerateFrameCommitsToFrameBuffer(t *testing.T) {
	cfg := smallConfig()
	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	rng := rand.New(rand.NewSource(1))
	require.NoError(t, p.GenerateFrame(0, rng))
	assert.Equal(t, uint64(1), p.fbm.Stats().FramesReceived)
}

func TestGenerateFrameDrivesLineBufferAndBackpressure(t *testing.T) {
	cfg := smallConfig()
	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	rng := rand.New(rand.NewSource(1))
	require.NoError(t, p.GenerateFrame(0, rng))

	assert.Greater(t, p.CrossDomainLatency(), time.Duration(0), "each line should accrue ROIC->CSI2 synchronizer latency")
}

func TestRunScanDrivesFSMToIdle(t *testing.T) {
	cfg := smallConfig()
	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	rng := rand.New(rand.NewSource(1))
	require.NoError(t, p.RunScan(0, rng))
	assert.Equal(t, seqfsm.Idle, p.FSM().State())
}

func TestEndToEndPipelineDeliversCompleteFrame(t *testing.T) {
	cfg := smallConfig()
	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go p.RunTransmitter(ctx)
	results := p.RunReceiver(ctx)

	rng := rand.New(rand.NewSource(7))
	require.NoError(t, p.RunScan(1, rng))

	select {
	case result := <-results:
		assert.Equal(t, reassembler.Complete, result.Kind)
		assert.Equal(t, uint32(1), result.FrameNumber)
		assert.Len(t, result.Pixels, cfg.Rows*cfg.Cols)
	case <-time.After(2 * time.Second):
		t.Fatal("frame was never reassembled")
	}
}

func TestCommandServerStartScanDrivesFSM(t *testing.T) {
	cfg := smallConfig()
	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go p.RunCommandServer(ctx)

	conn, err := net.Dial("udp", p.ControlAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	client := cmdproto.NewClient(conn, []byte(cfg.CommandKey))

	status, _, err := client.Send(ctx, cmdproto.CmdStartScan, []byte{byte(seqfsm.Single)})
	require.NoError(t, err)
	assert.Equal(t, cmdproto.StatusOk, status)

	require.Eventually(t, func() bool {
		return p.FSM().State() != seqfsm.Idle
	}, time.Second, 10*time.Millisecond, "StartScan command should advance the FSM out of Idle")

	status, payload, err := client.Send(ctx, cmdproto.CmdGetStatus, nil)
	require.NoError(t, err)
	assert.Equal(t, cmdproto.StatusOk, status)
	assert.Len(t, payload, 8)

	status, _, err = client.Send(ctx, cmdproto.CmdStopScan, nil)
	require.NoError(t, err)
	assert.Equal(t, cmdproto.StatusOk, status)
	assert.Equal(t, seqfsm.Idle, p.FSM().State())
}
