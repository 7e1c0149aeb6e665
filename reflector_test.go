package reflector

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/reflector/talker"
)

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr error
	}{
		{"valid", func(o *Options) { o.AuthKey = "k" }, nil},
		{"missing key", func(o *Options) {}, ErrMissingAuthKey},
		{"placeholder key", func(o *Options) { o.AuthKey = PlaceholderAuthKey }, ErrPlaceholderAuthKey},
		{"negative tick", func(o *Options) {
			o.AuthKey = "k"
			o.TickInterval = -time.Second
		}, ErrInvalidOptions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			tt.mutate(o)
			err := o.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestOptionsValidateFillsDefaults(t *testing.T) {
	o := &Options{AuthKey: "k"}
	require.NoError(t, o.Validate())

	assert.Equal(t, DefaultListenAddr, o.ListenAddr)
	assert.Equal(t, DefaultTickInterval, o.TickInterval)
	assert.Equal(t, talker.DefaultAudioTimeout, o.AudioTimeout)
	assert.Equal(t, DefaultSquelchBlockTime, o.SquelchBlockTime)
	assert.Equal(t, DefaultEventQueueSize, o.EventQueueSize)
	assert.Equal(t, "k", o.Client.AuthKey, "sessions verify against the reflector key")
}

func TestOptionsBlockTicks(t *testing.T) {
	tests := []struct {
		block, tick time.Duration
		want        uint
	}{
		{60 * time.Second, time.Second, 60},
		{1500 * time.Millisecond, time.Second, 2},
		{500 * time.Millisecond, time.Second, 1},
		{0, time.Second, 1},
		{time.Second, 250 * time.Millisecond, 4},
	}
	for _, tt := range tests {
		o := &Options{SquelchBlockTime: tt.block, TickInterval: tt.tick}
		assert.Equal(t, tt.want, o.BlockTicks(), "block %s tick %s", tt.block, tt.tick)
	}
}

func TestNewBindsTCPAndUDPOnSamePort(t *testing.T) {
	o := NewOptions()
	o.AuthKey = testAuthKey
	o.ListenAddr = "127.0.0.1:0"

	r, err := New(o)
	require.NoError(t, err)
	defer r.Kill()

	tcpPort := r.Addr().(*net.TCPAddr).Port
	assert.NotZero(t, tcpPort)
	assert.Equal(t, tcpPort, r.udp.LocalAddr().Port)
	assert.False(t, r.IsRunning())
}

func TestNewRejectsPlaceholderKey(t *testing.T) {
	o := NewOptions()
	o.AuthKey = PlaceholderAuthKey
	o.ListenAddr = "127.0.0.1:0"

	_, err := New(o)
	assert.ErrorIs(t, err, ErrPlaceholderAuthKey)
}

func TestNewFailsWhenPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	o := NewOptions()
	o.AuthKey = testAuthKey
	o.ListenAddr = ln.Addr().String()

	_, err = New(o)
	assert.Error(t, err)
}

func TestNewFailsOnBadAddress(t *testing.T) {
	o := NewOptions()
	o.AuthKey = testAuthKey
	o.ListenAddr = "no-port"

	_, err := New(o)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	o := NewOptions()
	o.AuthKey = testAuthKey
	o.ListenAddr = "127.0.0.1:0"
	o.TickInterval = 10 * time.Millisecond

	r, err := New(o)
	require.NoError(t, err)
	defer r.Kill()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, r.IsRunning, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, r.Run(context.Background()), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, r.IsRunning())
	assert.ErrorIs(t, r.Run(context.Background()), ErrNotRunning, "a stopped reflector cannot be restarted")
}

func TestKillStopsRun(t *testing.T) {
	o := NewOptions()
	o.AuthKey = testAuthKey
	o.ListenAddr = "127.0.0.1:0"

	r, err := New(o)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	require.Eventually(t, r.IsRunning, time.Second, 5*time.Millisecond)

	r.Kill()
	r.Kill()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Kill")
	}
}

func TestRunStopsWhenSocketClosed(t *testing.T) {
	o := NewOptions()
	o.AuthKey = testAuthKey
	o.ListenAddr = "127.0.0.1:0"

	r, err := New(o)
	require.NoError(t, err)
	defer r.Kill()

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	require.Eventually(t, r.IsRunning, time.Second, 5*time.Millisecond)

	require.NoError(t, r.udp.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the UDP socket closed")
	}
	assert.False(t, r.IsRunning())
}

func TestKillBeforeRun(t *testing.T) {
	o := NewOptions()
	o.AuthKey = testAuthKey
	o.ListenAddr = "127.0.0.1:0"

	r, err := New(o)
	require.NoError(t, err)
	r.Kill()

	assert.ErrorIs(t, r.Run(context.Background()), ErrNotRunning)
}

func TestPostAfterStopFails(t *testing.T) {
	h := newHarness(t, nil)
	close(h.r.done)

	assert.ErrorIs(t, h.r.post(tickless{}), ErrNotRunning)
}

// tickless is an event the loop does not know about.
type tickless struct{}

func (tickless) eventName() string { return "tickless" }

func TestUnknownEventIgnored(t *testing.T) {
	h := newHarness(t, nil)
	assert.NotPanics(t, func() { h.r.handle(tickless{}) })
}
