package reflector

import (
	"fmt"
	"time"

	"github.com/opd-ai/reflector/client"
	"github.com/opd-ai/reflector/metrics"
	"github.com/opd-ai/reflector/talker"
)

// PlaceholderAuthKey is the key shipped in sample configurations. It is refused.
const PlaceholderAuthKey = "Change this key now!"

const (
	DefaultListenAddr       = ":5300"
	DefaultTickInterval     = time.Second
	DefaultSquelchBlockTime = 60 * time.Second
	DefaultEventQueueSize   = 1024
)

// Options contains reflector configuration.
type Options struct {
	// ListenAddr is used for both the TCP listener and the UDP socket.
	ListenAddr string

	// AuthKey is the shared secret every node authenticates with.
	AuthKey string

	// AudioTimeout releases a talker that stopped sending audio.
	AudioTimeout time.Duration

	// TickInterval is the period of the timeout checks.
	TickInterval time.Duration

	// SquelchTimeout is the longest transmission in ticks. Zero disables it.
	SquelchTimeout uint

	// SquelchBlockTime is how long a node is blocked after a squelch timeout.
	// It is converted to ticks, rounding up, with a minimum of one tick.
	SquelchBlockTime time.Duration

	// Client holds per-session heartbeat and queue settings.
	Client client.Config

	// EventQueueSize bounds the loop's inbound event queue.
	EventQueueSize int

	// Metrics receives reflector counters. Nil disables metrics.
	Metrics *metrics.Metrics

	// TimeProvider drives the tick timer and the audio timeout. Nil uses the wall clock.
	TimeProvider talker.TimeProvider
}

// NewOptions creates Options with default values. AuthKey must still be set.
func NewOptions() *Options {
	return &Options{
		ListenAddr:       DefaultListenAddr,
		AudioTimeout:     talker.DefaultAudioTimeout,
		TickInterval:     DefaultTickInterval,
		SquelchBlockTime: DefaultSquelchBlockTime,
		Client:           client.DefaultConfig(),
		EventQueueSize:   DefaultEventQueueSize,
		TimeProvider:     talker.RealTimeProvider{},
	}
}

// Validate checks the options and fills in zero values with defaults.
func (o *Options) Validate() error {
	switch o.AuthKey {
	case "":
		return ErrMissingAuthKey
	case PlaceholderAuthKey:
		return ErrPlaceholderAuthKey
	}

	if o.TickInterval < 0 || o.AudioTimeout < 0 || o.SquelchBlockTime < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidOptions)
	}
	if o.ListenAddr == "" {
		o.ListenAddr = DefaultListenAddr
	}
	if o.TickInterval == 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.AudioTimeout == 0 {
		o.AudioTimeout = talker.DefaultAudioTimeout
	}
	if o.SquelchBlockTime == 0 {
		o.SquelchBlockTime = DefaultSquelchBlockTime
	}
	if o.EventQueueSize <= 0 {
		o.EventQueueSize = DefaultEventQueueSize
	}
	o.Client.AuthKey = o.AuthKey
	return nil
}

// BlockTicks converts SquelchBlockTime to ticks, rounding up, never less than one.
func (o *Options) BlockTicks() uint {
	if o.TickInterval <= 0 {
		return 1
	}
	ticks := (o.SquelchBlockTime + o.TickInterval - 1) / o.TickInterval
	if ticks < 1 {
		return 1
	}
	return uint(ticks)
}
