package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/reflector/limits"
)

// frameHeaderSize is the length prefix in front of every reliable channel frame.
const frameHeaderSize = 4

// acceptBackoffMax caps the pause after repeated transient accept errors.
const acceptBackoffMax = time.Second

// TCPListener accepts reliable control connections.
type TCPListener struct {
	listener   net.Listener
	listenAddr net.Addr
	closeOnce  sync.Once
	closeErr   error
}

// ListenTCP binds the reliable channel listener.
func ListenTCP(listenAddr string) (*TCPListener, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}

	return &TCPListener{
		listener:   listener,
		listenAddr: listener.Addr(),
	}, nil
}

// Serve accepts connections until ctx is cancelled or the listener is closed.
// Each accepted connection is passed to accept, which owns it from then on.
func (l *TCPListener) Serve(ctx context.Context, accept func(conn net.Conn)) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			backoff = nextBackoff(backoff)
			logrus.WithFields(logrus.Fields{
				"function":   "TCPListener.Serve",
				"local_addr": l.listenAddr.String(),
				"backoff":    backoff.String(),
				"error":      err.Error(),
			}).Warn("Accept failed")
			time.Sleep(backoff)
			continue
		}

		backoff = 0
		accept(conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > acceptBackoffMax {
		d = acceptBackoffMax
	}
	return d
}

// Addr returns the local address the listener is bound to.
func (l *TCPListener) Addr() net.Addr {
	return l.listenAddr
}

// Close stops accepting connections. It is safe to call more than once.
func (l *TCPListener) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.listener.Close()
	})
	return l.closeErr
}

// WriteFrame writes payload with its 4-byte big endian length prefix in a single write.
func WriteFrame(w io.Writer, payload []byte) error {
	if err := limits.ValidateControlFrame(uint32(len(payload))); err != nil {
		return fmt.Errorf("%w: %w", ErrFrameTooLarge, err)
	}

	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:frameHeaderSize], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame. Partial reads are retried until
// the whole frame has arrived; the length is validated before allocation.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if err := limits.ValidateControlFrame(length); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFrameTooLarge, err)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// WriteMessage encodes and frames one control message.
func WriteMessage(w io.Writer, m Message) error {
	data, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	return WriteFrame(w, data)
}

// ReadMessage reads and decodes one control message.
func ReadMessage(r io.Reader) (Message, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeMessage(data)
}
