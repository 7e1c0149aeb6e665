package reflector

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/reflector/client"
	"github.com/opd-ai/reflector/metrics"
	"github.com/opd-ai/reflector/session"
	"github.com/opd-ai/reflector/talker"
	"github.com/opd-ai/reflector/transport"
)

// Reflector relays audio between authenticated link nodes.
type Reflector struct {
	options      *Options
	timeProvider talker.TimeProvider
	metrics      *metrics.Metrics

	tcp    *transport.TCPListener
	udp    *transport.UDPTransport
	sender transport.DatagramSender

	// Owned by the loop goroutine.
	registry    *session.Registry
	arbiter     *talker.Arbiter
	out         *countingBroadcaster
	runCtx      context.Context
	statusDirty bool

	events chan event
	done   chan struct{}

	running  atomic.Bool
	killed   atomic.Bool
	killOnce sync.Once
	cancelMu sync.Mutex
	cancel   context.CancelFunc

	statusMu  sync.RWMutex
	status    Status
	startedAt time.Time
}

// New validates options and binds the TCP listener and the UDP socket on
// the same port. Binding failures are returned; nothing runs until Run.
func New(options *Options) (*Reflector, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(options.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen address %q: %w", options.ListenAddr, err)
	}

	tcp, err := transport.ListenTCP(options.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", options.ListenAddr, err)
	}

	// Port 0 picks a TCP port first; UDP follows it so nodes find both on one port.
	port := tcp.Addr().(*net.TCPAddr).Port
	udp, err := transport.NewUDPTransport(net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		_ = tcp.Close()
		return nil, fmt.Errorf("listen udp %s: %w", options.ListenAddr, err)
	}

	r := newReflector(options, udp, nil)
	r.tcp = tcp
	r.udp = udp

	logrus.WithFields(logrus.Fields{
		"function":        "New",
		"listen_addr":     tcp.Addr().String(),
		"tick_interval":   options.TickInterval.String(),
		"audio_timeout":   options.AudioTimeout.String(),
		"squelch_timeout": options.SquelchTimeout,
		"block_ticks":     options.BlockTicks(),
	}).Info("Reflector listening")

	return r, nil
}

// newReflector wires the loop state. A nil factory creates client sessions
// on real connections; tests pass their own.
func newReflector(options *Options, sender transport.DatagramSender, factory session.Factory) *Reflector {
	tp := options.TimeProvider
	if tp == nil {
		tp = talker.RealTimeProvider{}
	}

	r := &Reflector{
		options:      options,
		timeProvider: tp,
		metrics:      options.Metrics,
		sender:       sender,
		events:       make(chan event, options.EventQueueSize),
		done:         make(chan struct{}),
		startedAt:    tp.Now(),
	}
	if factory == nil {
		factory = r.newClientSession
	}

	r.registry = session.NewRegistry(factory)
	r.out = &countingBroadcaster{registry: r.registry, metrics: r.metrics}
	r.arbiter = talker.NewArbiter(talker.Config{
		AudioTimeout:   options.AudioTimeout,
		SquelchTimeout: options.SquelchTimeout,
		BlockTicks:     options.BlockTicks(),
	}, r.out)
	r.arbiter.SetTimeProvider(tp)
	r.arbiter.SetStartCallback(r.onTalkerStart)
	r.arbiter.SetStopCallback(r.onTalkerStop)

	r.refreshStatus()
	return r
}

func (r *Reflector) newClientSession(id uint32, conn net.Conn) session.Session {
	return client.New(id, conn, r.sender, r.options.Client, client.Hooks{
		Authenticated: func(s *client.Session, callsign string) {
			_ = r.post(authenticatedEvent{session: s, callsign: callsign})
		},
		Disconnected: func(conn net.Conn, err error) {
			_ = r.post(disconnectedEvent{conn: conn, err: err})
		},
	})
}

// Run serves nodes until ctx is cancelled, Kill is called or one of the
// sockets is closed underneath it. Transient read and accept errors are
// logged and survived, so a started Run always returns nil.
func (r *Reflector) Run(ctx context.Context) error {
	if r.killed.Load() {
		return ErrNotRunning
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.running.Store(false)

	select {
	case <-r.done:
		// A stopped loop cannot be restarted.
		return ErrNotRunning
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancelMu.Lock()
	r.cancel = cancel
	r.cancelMu.Unlock()
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	r.runCtx = gctx

	g.Go(func() error { return r.loop(gctx) })
	if r.udp != nil {
		g.Go(func() error {
			defer cancel()
			return r.udp.Serve(gctx, r.onDatagram)
		})
	}
	if r.tcp != nil {
		g.Go(func() error {
			defer cancel()
			return r.tcp.Serve(gctx, r.onAccept)
		})
	}

	err := g.Wait()
	r.closeSockets()

	logrus.WithFields(logrus.Fields{
		"function": "Reflector.Run",
	}).Info("Reflector stopped")
	return err
}

// IsRunning returns whether Run is active.
func (r *Reflector) IsRunning() bool {
	return r.running.Load()
}

// Kill stops Run and releases the sockets. It is safe to call more than once.
func (r *Reflector) Kill() {
	r.killOnce.Do(func() {
		r.killed.Store(true)

		r.cancelMu.Lock()
		cancel := r.cancel
		r.cancelMu.Unlock()
		if cancel != nil {
			cancel()
		}

		r.closeSockets()
	})
}

// Addr returns the bound TCP address. The UDP socket uses the same port.
func (r *Reflector) Addr() net.Addr {
	if r.tcp == nil {
		return nil
	}
	return r.tcp.Addr()
}

// sessionContext bounds session goroutines to the current Run.
func (r *Reflector) sessionContext() context.Context {
	if r.runCtx != nil {
		return r.runCtx
	}
	return context.Background()
}

func (r *Reflector) closeSockets() {
	if r.tcp != nil {
		_ = r.tcp.Close()
	}
	if r.udp != nil {
		_ = r.udp.Close()
	}
}

func (r *Reflector) onAccept(conn net.Conn) {
	if err := r.post(connectedEvent{conn: conn}); err != nil {
		_ = conn.Close()
	}
}

func (r *Reflector) onDatagram(data []byte, addr *net.UDPAddr) {
	_ = r.post(datagramEvent{data: data, addr: addr})
}

// loop is the only goroutine that touches the registry and the arbiter.
func (r *Reflector) loop(ctx context.Context) error {
	ticker := r.timeProvider.NewTicker(r.options.TickInterval)
	defer ticker.Stop()
	defer r.shutdown()
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.events:
			r.handle(ev)
		case <-ticker.C:
			r.handleTick()
		}
	}
}

func (r *Reflector) handle(ev event) {
	start := r.timeProvider.Now()

	switch e := ev.(type) {
	case connectedEvent:
		r.handleConnected(e.conn)
	case disconnectedEvent:
		r.handleDisconnected(e.conn, e.err)
	case authenticatedEvent:
		r.handleAuthenticated(e.session, e.callsign)
	case datagramEvent:
		r.handleDatagram(e.data, e.addr)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Reflector.handle",
			"event":    fmt.Sprintf("%T", ev),
		}).Error("Unhandled event")
	}

	r.metrics.ObserveEvent(r.timeProvider.Now().Sub(start).Seconds())
	if r.statusDirty {
		r.refreshStatus()
	}
}

// shutdown closes every session once the loop has stopped.
func (r *Reflector) shutdown() {
	r.registry.Each(func(s session.Session) {
		_ = s.Close()
	})
}
