package radio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(868_000_000), cfg.Frequency)
	bw, err := cfg.BandwidthIndex()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), bw)
	assert.False(t, cfg.LowDataRateOptimize())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"frequency", func(c *Config) { c.Frequency = 10 }},
		{"bandwidth", func(c *Config) { c.Bandwidth = 100_000 }},
		{"spreading factor", func(c *Config) { c.SpreadingFactor = 13 }},
		{"coding rate", func(c *Config) { c.CodingRate = 4 }},
		{"power", func(c *Config) { c.TxPower = 30 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTimeOnAir(t *testing.T) {
	cfg := DefaultConfig()
	// 12.25 preamble symbols + 40 payload symbols of 1.024 ms.
	assert.InDelta(t, 53.504, float64(cfg.TimeOnAir(10))/float64(time.Millisecond), 0.01)
	assert.Greater(t, cfg.TimeOnAir(255), cfg.TimeOnAir(10))

	slow := cfg
	slow.SpreadingFactor = 12
	assert.True(t, slow.LowDataRateOptimize())
	assert.Greater(t, slow.TimeOnAir(10), cfg.TimeOnAir(10))
}

func TestAir_FieldToBase(t *testing.T) {
	air := NewAir()
	field, base := air.FieldUnit(), air.BaseStation()

	require.NoError(t, field.StartTransmit([]byte{1, 2, 3}))
	done, err := field.TransmitDone()
	require.NoError(t, err)
	assert.True(t, done)

	frame, err := base.Receive(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, frame)

	_, err = base.Receive(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAir_BaseToFieldOnlyWhileListening(t *testing.T) {
	air := NewAir()
	field, base := air.FieldUnit(), air.BaseStation()
	ctx := context.Background()

	// Not listening: lost.
	require.NoError(t, base.Transmit(ctx, []byte{9}))
	_, err := field.CheckReceive()
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, field.StartReceive())
	ready, err := field.CheckReceive()
	require.NoError(t, err)
	assert.False(t, ready)

	require.NoError(t, base.Transmit(ctx, []byte{4, 5}))
	ready, err = field.CheckReceive()
	require.NoError(t, err)
	assert.True(t, ready)

	buf := make([]byte, 255)
	n, err := field.Received(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, buf[:n])

	require.NoError(t, field.Reset())
	require.NoError(t, base.Transmit(ctx, []byte{6}))
	sent, lost := air.Stats()
	assert.Equal(t, 3, sent)
	assert.Equal(t, 2, lost)
}

func TestAir_Airtime(t *testing.T) {
	air := NewAir(WithAirtime())
	field := air.FieldUnit()
	require.NoError(t, field.Configure(DefaultConfig()))

	require.NoError(t, field.StartTransmit(make([]byte, 10)))
	done, err := field.TransmitDone()
	require.NoError(t, err)
	assert.False(t, done)

	time.Sleep(60 * time.Millisecond)
	done, err = field.TransmitDone()
	require.NoError(t, err)
	assert.True(t, done)
}

func TestAir_Loss(t *testing.T) {
	air := NewAir(WithLoss(1, 1))
	field, base := air.FieldUnit(), air.BaseStation()
	require.NoError(t, field.StartTransmit([]byte{1}))
	_, err := base.Receive(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestAir_ReceiveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAir().BaseStation().Receive(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, NewAir().BaseStation().Transmit(ctx, nil), context.Canceled)
}

func TestAir_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpreadingFactor = 3
	assert.Error(t, NewAir().FieldUnit().Configure(cfg))
}
