package protocol

// MaxPayloadSize bounds the payload of a single segment.
const MaxPayloadSize = 1452

// TCPSender reads from its outbound ByteStream and produces segments sized
// to the peer's advertised window, handing each to a caller-supplied
// transmit sink. Retransmission lives in the embedded Retransmitter.
type TCPSender struct {
	input *ByteStream
	isn   Wrap32

	synSent bool
	finSent bool

	// Most recent receiver message that passed validation. nil until the
	// first valid message arrives; the window is then treated as 1 so the
	// sender can probe.
	recvMsg *TCPReceiverMessage

	rtx *Retransmitter
}

func NewTCPSender(input *ByteStream, isn Wrap32, initialRTOms uint64) *TCPSender {
	return &TCPSender{
		input: input,
		isn:   isn,
		rtx:   NewRetransmitter(isn, initialRTOms),
	}
}

func (s *TCPSender) Writer() Writer {
	return s.input.Writer()
}

func (s *TCPSender) Reader() Reader {
	return s.input.Reader()
}

// firstUnsent is the absolute sequence number of the next new byte.
func (s *TCPSender) firstUnsent() uint64 {
	n := s.input.Reader().BytesPopped()
	if s.synSent {
		n++
	}
	if s.finSent {
		n++
	}
	return n
}

// firstAcceptable unwraps a receiver message's ackno. A nil message or a
// message without an ackno means the peer hasn't seen SYN yet.
func (s *TCPSender) firstAcceptable(msg *TCPReceiverMessage) uint64 {
	if msg == nil || msg.Ackno == nil {
		return 0
	}
	return msg.Ackno.Unwrap(s.isn, s.firstUnsent())
}

func (s *TCPSender) windowSize() uint64 {
	if s.recvMsg == nil {
		return 1
	}
	return uint64(s.recvMsg.WindowSize)
}

// acceptableLength is how many sequence numbers the peer will still take.
// A zero window counts as one so the sender keeps probing.
func (s *TCPSender) acceptableLength() uint64 {
	window := max(s.windowSize(), 1)
	return s.firstAcceptable(s.recvMsg) + window - s.firstUnsent()
}

// buildSegment assembles the longest segment currently permitted, popping
// its payload from the stream.
func (s *TCPSender) buildSegment(syn bool) TCPSenderMessage {
	msg := TCPSenderMessage{
		Seqno: Wrap(s.firstUnsent(), s.isn),
		SYN:   syn,
		RST:   s.input.Reader().HasError(),
	}

	acceptable := s.acceptableLength()
	payloadSize := acceptable
	if syn {
		payloadSize--
	}
	payloadSize = min(payloadSize, MaxPayloadSize)

	reader := s.input.Reader()
	buffered := reader.Peek()
	if payloadSize > uint64(len(buffered)) {
		payloadSize = uint64(len(buffered))
	}
	msg.Payload = append([]byte(nil), buffered[:payloadSize]...)
	reader.Pop(payloadSize)

	occupied := payloadSize
	if syn {
		occupied++
	}
	msg.FIN = reader.IsFinished() && occupied < acceptable
	return msg
}

func (s *TCPSender) send(transmit TransmitFunc, msg TCPSenderMessage) {
	transmit(msg)
	if msg.FIN {
		s.finSent = true
	}
	s.rtx.RecordSent(msg)
}

// Push sends as many segments as the peer's window allows, starting with
// SYN on the first call.
func (s *TCPSender) Push(transmit TransmitFunc) {
	if !s.synSent {
		msg := s.buildSegment(true)
		s.send(transmit, msg)
		s.synSent = true
	}

	for !s.finSent && s.acceptableLength() != 0 {
		msg := s.buildSegment(false)
		if !msg.RST && msg.SequenceLength() == 0 {
			break
		}
		s.send(transmit, msg)
		if msg.RST {
			break
		}
	}
}

// MakeEmptyMessage produces a zero-length segment at the current sequence
// number, used for pure acks and RST.
func (s *TCPSender) MakeEmptyMessage() TCPSenderMessage {
	return TCPSenderMessage{
		Seqno: Wrap(s.firstUnsent(), s.isn),
		RST:   s.input.Reader().HasError(),
	}
}

// Receive processes an acknowledgment from the peer's receiver. Messages
// that would move the acknowledged point backwards, or past bytes not yet
// sent, are ignored.
func (s *TCPSender) Receive(msg TCPReceiverMessage) {
	if msg.RST {
		s.input.Reader().SetError()
		return
	}

	oldFirstAcceptable := s.firstAcceptable(s.recvMsg)
	newFirstAcceptable := s.firstAcceptable(&msg)
	if newFirstAcceptable < oldFirstAcceptable || s.firstUnsent() < newFirstAcceptable {
		return
	}

	s.recvMsg = &msg

	if newFirstAcceptable == oldFirstAcceptable {
		return
	}
	s.rtx.OnAck(oldFirstAcceptable, newFirstAcceptable)
}

// Tick advances the retransmission timer by ms milliseconds.
func (s *TCPSender) Tick(ms uint64, transmit TransmitFunc) {
	s.rtx.Tick(ms, s.windowSize() > 0, transmit)
}

// SequenceNumbersInFlight reports how many sequence numbers are outstanding.
func (s *TCPSender) SequenceNumbersInFlight() uint64 {
	return s.rtx.SequenceNumbersInFlight()
}

// ConsecutiveRetransmissions reports the current backoff count.
func (s *TCPSender) ConsecutiveRetransmissions() uint64 {
	return s.rtx.ConsecutiveRetransmissions()
}
