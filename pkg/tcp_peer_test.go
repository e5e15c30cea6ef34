package protocol

import (
	"bytes"
	"testing"
)

// testConnection wires two TCPPeers back to back through in-memory segment
// queues.
type testConnection struct {
	client, server     *TCPPeer
	toServer, toClient []TCPMessage
}

func newTestConnection(capacity uint64) *testConnection {
	makePeer := func(isn Wrap32) *TCPPeer {
		sender := NewTCPSender(NewByteStream(capacity), isn, 1000)
		receiver := NewTCPReceiver(NewReassembler(NewByteStream(capacity)))
		return NewTCPPeer(sender, receiver)
	}
	return &testConnection{
		client: makePeer(10000),
		server: makePeer(20000),
	}
}

// exchange delivers queued segments both ways until the connection is quiet.
func (c *testConnection) exchange() {
	for len(c.toServer) > 0 || len(c.toClient) > 0 {
		pending := c.toServer
		c.toServer = nil
		for _, msg := range pending {
			c.server.Receive(msg, func(m TCPMessage) { c.toClient = append(c.toClient, m) })
		}

		pending = c.toClient
		c.toClient = nil
		for _, msg := range pending {
			c.client.Receive(msg, func(m TCPMessage) { c.toServer = append(c.toServer, m) })
		}
	}
}

func (c *testConnection) clientPush() {
	c.client.Push(func(m TCPMessage) { c.toServer = append(c.toServer, m) })
}

func TestPeerHandshakeAndData(t *testing.T) {
	c := newTestConnection(4000)

	c.client.OutboundWriter().Push([]byte("hello, world"))
	c.clientPush()
	c.exchange()

	if got := c.server.InboundReader().Peek(); !bytes.Equal(got, []byte("hello, world")) {
		t.Fatalf("server received %q", got)
	}
	if got := c.client.Sender().SequenceNumbersInFlight(); got != 0 {
		t.Fatalf("client still has %d sequence numbers in flight", got)
	}
}

func TestPeerBidirectional(t *testing.T) {
	c := newTestConnection(4000)

	c.client.OutboundWriter().Push([]byte("ping"))
	c.clientPush()
	c.exchange()

	c.server.OutboundWriter().Push([]byte("pong"))
	c.server.Push(func(m TCPMessage) { c.toClient = append(c.toClient, m) })
	c.exchange()

	if got := c.server.InboundReader().Peek(); !bytes.Equal(got, []byte("ping")) {
		t.Fatalf("server received %q", got)
	}
	if got := c.client.InboundReader().Peek(); !bytes.Equal(got, []byte("pong")) {
		t.Fatalf("client received %q", got)
	}
}

func TestPeerCloseReachesOtherSide(t *testing.T) {
	c := newTestConnection(4000)

	c.client.OutboundWriter().Push([]byte("bye"))
	c.client.OutboundWriter().Close()
	c.clientPush()
	c.exchange()

	reader := c.server.InboundReader()
	if !bytes.Equal(reader.Peek(), []byte("bye")) {
		t.Fatalf("server received %q", reader.Peek())
	}
	reader.Pop(3)
	if !reader.IsFinished() {
		t.Fatal("server stream not finished after client FIN")
	}
}

func TestPeerRetransmitThroughLoss(t *testing.T) {
	c := newTestConnection(4000)

	c.client.OutboundWriter().Push([]byte("lost"))
	c.clientPush()

	// Drop everything the client just sent.
	c.toServer = nil

	// After an RTO the segment is retransmitted and the exchange completes.
	c.client.Tick(1000, func(m TCPMessage) { c.toServer = append(c.toServer, m) })
	c.exchange()

	if got := c.server.InboundReader().Peek(); !bytes.Equal(got, []byte("lost")) {
		t.Fatalf("server received %q", got)
	}
}
