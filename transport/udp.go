package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/reflector/limits"
)

// readDeadline bounds each blocking read so the loop notices cancellation.
const readDeadline = 100 * time.Millisecond

// DatagramHandler processes one raw datagram. The slice is owned by the handler.
type DatagramHandler func(data []byte, addr *net.UDPAddr)

// UDPTransport is the unreliable audio channel socket.
// It satisfies the DatagramSender interface.
type UDPTransport struct {
	conn       *net.UDPConn
	listenAddr *net.UDPAddr
	closeOnce  sync.Once
	closeErr   error
}

// NewUDPTransport binds the unreliable channel socket.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	return &UDPTransport{
		conn:       conn,
		listenAddr: conn.LocalAddr().(*net.UDPAddr),
	}, nil
}

// Serve reads datagrams until ctx is cancelled or the socket is closed,
// handing each one to handler in arrival order.
func (t *UDPTransport) Serve(ctx context.Context, handler DatagramHandler) error {
	// One byte of headroom so oversized datagrams are detected rather than truncated silently.
	buffer := make([]byte, limits.MaxDatagramSize+1)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		data, addr, err := t.readPacketData(buffer)
		if err != nil {
			if t.handleReadError(err) {
				return nil
			}
			continue
		}

		handler(data, addr)
	}
}

// readPacketData reads one datagram with a short deadline and copies it out of the buffer.
func (t *UDPTransport) readPacketData(buffer []byte) ([]byte, *net.UDPAddr, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(readDeadline))

	n, addr, err := t.conn.ReadFromUDP(buffer)
	if err != nil {
		return nil, nil, err
	}

	data := make([]byte, n)
	copy(data, buffer[:n])
	return data, addr, nil
}

// handleReadError classifies a read error and reports whether the loop must stop.
func (t *UDPTransport) handleReadError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function":   "UDPTransport.handleReadError",
		"local_addr": t.listenAddr.String(),
		"error":      err.Error(),
	}).Warn("UDP read failed")
	return false
}

// Send serializes a datagram and writes it to addr. Delivery is not confirmed.
func (t *UDPTransport) Send(d *Datagram, addr *net.UDPAddr) error {
	data, err := d.Serialize()
	if err != nil {
		return err
	}

	_, err = t.conn.WriteToUDP(data, addr)
	return err
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.listenAddr
}

// Close shuts down the socket. It is safe to call more than once.
func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
