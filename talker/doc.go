// Package talker arbitrates the single shared transmit channel.
//
// At most one session holds the channel. The Arbiter is driven by three
// inputs: audio frames, flush markers and a periodic tick.
//
//	Idle        --audio from unblocked S-->     Talking(S)   TalkerStart to others
//	Talking(S)  --audio from S-->               Talking(S)   frame relayed to others
//	Talking(S)  --audio from T != S-->          Talking(S)   frame dropped
//	Talking(S)  --flush from S-->               Idle         TalkerStop + FlushSamples to others
//	Talking(S)  --tick, audio idle > timeout--> Idle         TalkerStop to all
//	Talking(S)  --tick, squelch reaches 0-->    Idle         S blocked, TalkerStop to all
//	Talking(S)  --S disconnects-->              Idle         TalkerStop to the rest
//
// Every flush is acknowledged to its sender with AllSamplesFlushed, whether
// or not the sender held the channel.
//
// The audio idle timeout and the squelch countdown are independent. The idle
// timeout is wall-clock based (three seconds by default) and catches a node
// that vanished mid-transmission. The squelch countdown is counted in ticks,
// reset on every talker assignment, and punishes a node that keeps the
// channel open for too long by blocking it for Config.BlockTicks ticks.
//
// # Deterministic Testing
//
// The Arbiter reads the clock through a TimeProvider:
//
//	arb := talker.NewArbiter(talker.Config{SquelchTimeout: 180, BlockTicks: 60}, registry)
//	arb.SetTimeProvider(mockTime)
//
// # Invariants
//
// CheckInvariant guards impossible transitions. Builds with the
// reflector_debug tag panic on a violation; other builds log it and skip the
// transition.
package talker
