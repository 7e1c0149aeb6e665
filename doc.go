// Package reflector implements an SvxLink-style audio reflector.
//
// Link nodes connect over TCP, authenticate with a shared key and then
// stream encoded audio over UDP. The reflector relays the audio of one
// node at a time, the talker, to every other node, and tells everyone
// who is talking.
//
// # Getting Started
//
//	options := reflector.NewOptions()
//	options.AuthKey = "a long shared secret"
//
//	r, err := reflector.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Kill()
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := r.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Core Types
//
//   - [Reflector]: binds the sockets and runs the event loop
//   - [Options]: listen address, shared key and talker timeouts
//   - [Status]: read-only snapshot of connected nodes and the talker
//
// # Event Loop
//
// All reflector state is owned by a single goroutine. Socket readers and
// session goroutines only post events to it:
//
//	connected      a control connection was accepted
//	authenticated  a node passed the challenge
//	disconnected   a control connection ended
//	datagram       a UDP datagram arrived
//	tick           the periodic timer fired
//
// Sends never block the loop. Reliable messages go to per-session bounded
// queues and UDP writes are fire-and-forget.
//
// # Datagram Demultiplexing
//
// Every datagram carries the sender's client id. It is accepted only if the
// id belongs to an authenticated session, the source IP matches the
// session's control connection and, once learned, the source port matches
// too. The first accepted datagram teaches the reflector the node's UDP
// port and is answered with a heartbeat. Datagrams older than the expected
// sequence number are dropped; gaps are counted as lost frames.
//
// # Talker Arbitration
//
// The first node to send audio takes the channel. Audio from other nodes is
// dropped until the talker flushes, disconnects, stays silent for longer
// than the audio timeout or exceeds the squelch timeout. A squelch timeout
// also blocks the node for the configured block time.
package reflector
