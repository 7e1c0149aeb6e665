// Package transport implements the two channels a node and the reflector
// share: a reliable control connection over TCP and an unreliable audio
// channel over UDP.
//
// # Unreliable Channel
//
// Every datagram carries a fixed 8-byte envelope followed by the payload:
//
//	[type (2)][logical client id (4)][sequence number (2)][payload]
//
// Datagram.Serialize and ParseDatagram convert between the wire format and
// the structure. ParseDatagram rejects empty, oversized and truncated input
// with ErrMalformedDatagram and copies the payload out of the read buffer.
//
//	udp, err := transport.NewUDPTransport(":5300")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go udp.Serve(ctx, func(data []byte, addr *net.UDPAddr) {
//	    d, err := transport.ParseDatagram(data)
//	    ...
//	})
//	err = udp.Send(&transport.Datagram{Type: transport.UDPAudio, ClientID: 7, Seq: 42, Payload: frame}, addr)
//
// # Reliable Channel
//
// Control messages are framed with a 4-byte big endian length prefix. The
// frame holds a 2-byte message type followed by a CBOR map body:
//
//	[length (4)][type (2)][CBOR body]
//
// WriteMessage and ReadMessage handle framing and encoding in one call.
// Frames larger than limits.MaxControlFrame are rejected before the body is
// allocated. ReadFrame uses io.ReadFull so partial TCP reads are reassembled.
//
//	ln, err := transport.ListenTCP(":5300")
//	go ln.Serve(ctx, func(conn net.Conn) {
//	    msg, err := transport.ReadMessage(conn)
//	    ...
//	})
//
// All messages are pointer types implementing Message; decode results are
// handled with a type switch:
//
//	switch m := msg.(type) {
//	case *transport.TalkerStart:
//	    log.Printf("%s is talking", m.Callsign)
//	}
//
// # Thread Safety
//
// UDPTransport.Send may be called from any goroutine. Serve invokes its
// handler sequentially from a single goroutine. WriteMessage performs one
// Write per frame; concurrent writers on the same connection must still be
// serialized by the caller.
package transport
