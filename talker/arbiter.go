package talker

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/reflector/session"
	"github.com/opd-ai/reflector/transport"
)

// DefaultAudioTimeout releases a talker that stopped sending audio without a flush.
const DefaultAudioTimeout = 3 * time.Second

// Broadcaster fans messages out to the connected sessions. *session.Registry satisfies it.
type Broadcaster interface {
	BroadcastExcept(except session.Session, msg transport.Message) session.BroadcastResult
	BroadcastUnreliableExcept(except session.Session, typ transport.UDPMsgType, payload []byte) session.BroadcastResult
}

// Config holds the arbitration policy.
type Config struct {
	// AudioTimeout is the audio idle time after which the talker is released.
	AudioTimeout time.Duration

	// SquelchTimeout is the longest transmission in ticks. Zero disables it.
	SquelchTimeout uint

	// BlockTicks is how long a session is blocked after a squelch timeout.
	BlockTicks uint
}

// State of the shared channel.
type State int

const (
	StateIdle State = iota
	StateTalking
)

func (s State) String() string {
	if s == StateTalking {
		return "talking"
	}
	return "idle"
}

// AudioOutcome reports what HandleAudio did with a frame.
type AudioOutcome int

const (
	// AudioIgnored means the frame carried no audio.
	AudioIgnored AudioOutcome = iota
	// AudioBlocked means the sender is serving a block.
	AudioBlocked
	// AudioStarted means the sender became the talker and the frame was relayed.
	AudioStarted
	// AudioRelayed means the talker's frame was relayed.
	AudioRelayed
	// AudioContention means someone else holds the channel; the frame was dropped.
	AudioContention
)

func (o AudioOutcome) String() string {
	switch o {
	case AudioIgnored:
		return "ignored"
	case AudioBlocked:
		return "blocked"
	case AudioStarted:
		return "started"
	case AudioRelayed:
		return "relayed"
	case AudioContention:
		return "contention"
	default:
		return "invalid"
	}
}

// ReleaseReason says why the channel was released.
type ReleaseReason int

const (
	ReleaseFlush ReleaseReason = iota
	ReleaseAudioTimeout
	ReleaseSquelchTimeout
	ReleaseDisconnect
)

func (r ReleaseReason) String() string {
	switch r {
	case ReleaseFlush:
		return "flush"
	case ReleaseAudioTimeout:
		return "audio_timeout"
	case ReleaseSquelchTimeout:
		return "squelch_timeout"
	case ReleaseDisconnect:
		return "disconnect"
	default:
		return "invalid"
	}
}

// forced reports whether the talker did not ask for the release itself and
// therefore must be told about it.
func (r ReleaseReason) forced() bool {
	return r == ReleaseAudioTimeout || r == ReleaseSquelchTimeout
}

// Arbiter decides which session owns the shared channel.
//
// Arbiter is not safe for concurrent use; every call must come from the
// reflector loop.
type Arbiter struct {
	cfg          Config
	out          Broadcaster
	timeProvider TimeProvider

	talker       session.Session
	lastActivity time.Time
	squelchCount uint

	startCb func(s session.Session)
	stopCb  func(s session.Session, reason ReleaseReason)
}

// NewArbiter creates an idle arbiter that fans out through out.
func NewArbiter(cfg Config, out Broadcaster) *Arbiter {
	if cfg.AudioTimeout <= 0 {
		cfg.AudioTimeout = DefaultAudioTimeout
	}
	if cfg.BlockTicks == 0 {
		cfg.BlockTicks = 1
	}
	return &Arbiter{
		cfg:          cfg,
		out:          out,
		timeProvider: RealTimeProvider{},
	}
}

// SetTimeProvider sets the time provider for deterministic testing.
func (a *Arbiter) SetTimeProvider(tp TimeProvider) {
	a.timeProvider = getTimeProvider(tp)
}

// SetStartCallback registers fn to run after a session takes the channel.
func (a *Arbiter) SetStartCallback(fn func(s session.Session)) {
	a.startCb = fn
}

// SetStopCallback registers fn to run after the channel is released.
func (a *Arbiter) SetStopCallback(fn func(s session.Session, reason ReleaseReason)) {
	a.stopCb = fn
}

// Talker returns the session holding the channel, or nil.
func (a *Arbiter) Talker() session.Session {
	return a.talker
}

func (a *Arbiter) State() State {
	if a.talker != nil {
		return StateTalking
	}
	return StateIdle
}

// SquelchRemaining returns the ticks left before a squelch timeout, zero when disabled or idle.
func (a *Arbiter) SquelchRemaining() uint {
	return a.squelchCount
}

// HandleAudio processes one audio frame from s.
func (a *Arbiter) HandleAudio(s session.Session, payload []byte) AudioOutcome {
	if s.IsBlocked() {
		logrus.WithFields(logrus.Fields{
			"function": "Arbiter.HandleAudio",
			"callsign": s.Callsign(),
		}).Debug("Dropping audio from blocked session")
		return AudioBlocked
	}
	if len(payload) == 0 {
		return AudioIgnored
	}

	outcome := AudioRelayed
	if a.talker == nil {
		a.setTalker(s)
		outcome = AudioStarted
	}

	if a.talker != s {
		logrus.WithFields(logrus.Fields{
			"function": "Arbiter.HandleAudio",
			"callsign": s.Callsign(),
			"talker":   a.talker.Callsign(),
		}).Debug("Channel busy, dropping audio")
		return AudioContention
	}

	a.lastActivity = a.timeProvider.Now()
	a.out.BroadcastUnreliableExcept(s, transport.UDPAudio, payload)
	return outcome
}

// HandleFlush processes an end-of-transmission marker from s. The sender is
// always acknowledged immediately. It reports whether the channel was released.
func (a *Arbiter) HandleFlush(s session.Session) bool {
	released := false
	if s == a.talker {
		a.release(ReleaseFlush)
		released = true
	}

	if err := s.SendUnreliable(transport.UDPAllSamplesFlushed, nil); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Arbiter.HandleFlush",
			"callsign": s.Callsign(),
			"error":    err.Error(),
		}).Debug("Flush acknowledgement not sent")
	}
	return released
}

// Tick runs the periodic timeout checks. The audio idle timeout is checked
// first; if it releases the channel the squelch countdown is not touched.
func (a *Arbiter) Tick() {
	if a.talker == nil {
		return
	}

	idle := a.timeProvider.Now().Sub(a.lastActivity)
	if idle > a.cfg.AudioTimeout {
		logrus.WithFields(logrus.Fields{
			"function": "Arbiter.Tick",
			"callsign": a.talker.Callsign(),
			"idle":     idle.String(),
		}).Info("Talker audio timeout")
		a.release(ReleaseAudioTimeout)
		return
	}

	if a.squelchCount > 0 {
		a.squelchCount--
		if a.squelchCount == 0 {
			logrus.WithFields(logrus.Fields{
				"function":    "Arbiter.Tick",
				"callsign":    a.talker.Callsign(),
				"block_ticks": a.cfg.BlockTicks,
			}).Info("Talker squelch timeout")
			a.talker.SetBlocked(a.cfg.BlockTicks)
			a.release(ReleaseSquelchTimeout)
		}
	}
}

// SessionRemoved releases the channel if s held it. The departing session is
// not notified. Call it before s leaves the registry.
func (a *Arbiter) SessionRemoved(s session.Session) {
	if s != nil && s == a.talker {
		a.release(ReleaseDisconnect)
	}
}

func (a *Arbiter) setTalker(s session.Session) {
	if !CheckInvariant(a.talker == nil, "talker %q assigned while %q holds the channel", s.Callsign(), callsignOf(a.talker)) {
		return
	}

	a.talker = s
	a.squelchCount = a.cfg.SquelchTimeout
	a.lastActivity = a.timeProvider.Now()

	logrus.WithFields(logrus.Fields{
		"function":        "Arbiter.setTalker",
		"callsign":        s.Callsign(),
		"squelch_timeout": a.cfg.SquelchTimeout,
	}).Info("Talker start")

	a.out.BroadcastExcept(s, &transport.TalkerStart{Callsign: s.Callsign()})

	if a.startCb != nil {
		a.startCb(s)
	}
}

func (a *Arbiter) release(reason ReleaseReason) {
	prev := a.talker
	if !CheckInvariant(prev != nil, "release (%s) with no talker", reason) {
		return
	}

	a.talker = nil
	a.squelchCount = 0

	logrus.WithFields(logrus.Fields{
		"function": "Arbiter.release",
		"callsign": prev.Callsign(),
		"reason":   reason.String(),
	}).Info("Talker stop")

	stopExcept := prev
	if reason.forced() {
		stopExcept = nil
	}
	a.out.BroadcastExcept(stopExcept, &transport.TalkerStop{Callsign: prev.Callsign()})
	a.out.BroadcastUnreliableExcept(prev, transport.UDPFlushSamples, nil)

	if a.stopCb != nil {
		a.stopCb(prev, reason)
	}
}

func callsignOf(s session.Session) string {
	if s == nil {
		return ""
	}
	return s.Callsign()
}
