package protocol

// TCPPeer binds one side of a connection: its sender and its receiver share
// each outgoing wire segment, the sender half carrying data and the
// receiver half carrying the current ackno and window.
type TCPPeer struct {
	sender   *TCPSender
	receiver *TCPReceiver
}

// TransmitMessageFunc is the sink for full outgoing segments.
type TransmitMessageFunc func(TCPMessage)

func NewTCPPeer(sender *TCPSender, receiver *TCPReceiver) *TCPPeer {
	return &TCPPeer{sender: sender, receiver: receiver}
}

func (p *TCPPeer) Sender() *TCPSender {
	return p.sender
}

func (p *TCPPeer) Receiver() *TCPReceiver {
	return p.receiver
}

// OutboundWriter is where the application writes bytes to send.
func (p *TCPPeer) OutboundWriter() Writer {
	return p.sender.Writer()
}

// InboundReader is where the application reads bytes received from the peer.
func (p *TCPPeer) InboundReader() Reader {
	return p.receiver.Reader()
}

func (p *TCPPeer) annotate(sm TCPSenderMessage) TCPMessage {
	return TCPMessage{Sender: sm, Receiver: p.receiver.Send()}
}

// Push lets the sender emit whatever the peer's window currently allows.
func (p *TCPPeer) Push(transmit TransmitMessageFunc) {
	p.sender.Push(func(sm TCPSenderMessage) {
		transmit(p.annotate(sm))
	})
}

// Receive processes one inbound segment: the receiver half consumes the
// peer's data, the sender half consumes the peer's acknowledgment. Segments
// that occupied sequence numbers get acknowledged, with an empty segment if
// the sender has nothing to piggyback on.
func (p *TCPPeer) Receive(msg TCPMessage, transmit TransmitMessageFunc) {
	needAck := msg.Sender.SequenceLength() > 0

	p.receiver.Receive(msg.Sender)
	p.sender.Receive(msg.Receiver)

	sent := false
	p.sender.Push(func(sm TCPSenderMessage) {
		sent = true
		transmit(p.annotate(sm))
	})
	if needAck && !sent {
		transmit(p.annotate(p.sender.MakeEmptyMessage()))
	}
}

// Tick drives the sender's retransmission timer.
func (p *TCPPeer) Tick(ms uint64, transmit TransmitMessageFunc) {
	p.sender.Tick(ms, func(sm TCPSenderMessage) {
		transmit(p.annotate(sm))
	})
}
