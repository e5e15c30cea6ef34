package protocol

import "math"

// TCPReceiver consumes TCPSenderMessages, feeding their payloads to a
// Reassembler at the right stream indices, and produces the ackno and window
// to advertise back to the peer.
type TCPReceiver struct {
	reassembler *Reassembler
	zeroPoint   Wrap32
	synSeen     bool
	finished    bool
}

func NewTCPReceiver(reassembler *Reassembler) *TCPReceiver {
	return &TCPReceiver{reassembler: reassembler}
}

func (rc *TCPReceiver) Reassembler() *Reassembler {
	return rc.reassembler
}

func (rc *TCPReceiver) Reader() Reader {
	return rc.reassembler.Reader()
}

func (rc *TCPReceiver) Writer() Writer {
	return rc.reassembler.Writer()
}

// absolute sequence number of the first unassembled byte. The +1 accounts
// for SYN occupying the first sequence number of the connection.
func (rc *TCPReceiver) firstUnassembledASN() uint64 {
	return rc.reassembler.Writer().BytesPushed() + 1
}

// Receive processes one segment from the peer's sender. Segments that arrive
// before a SYN has established the zero point are dropped.
func (rc *TCPReceiver) Receive(msg TCPSenderMessage) {
	if msg.RST {
		rc.reassembler.Reader().SetError()
		return
	}

	if msg.SYN {
		rc.finished = false
		rc.zeroPoint = msg.Seqno
		rc.synSeen = true
	}
	if !rc.synSeen {
		return
	}

	seqno := msg.Seqno
	if msg.SYN {
		seqno = seqno.Add(1)
	}
	asn := seqno.Unwrap(rc.zeroPoint, rc.firstUnassembledASN())
	streamIndex := asn - 1

	rc.reassembler.Insert(streamIndex, msg.Payload, msg.FIN)

	if rc.reassembler.Writer().IsClosed() {
		rc.finished = true
	}
}

// Send produces the receiver's current acknowledgment state. The ackno
// counts SYN, all assembled bytes, and FIN once the stream has closed.
func (rc *TCPReceiver) Send() TCPReceiverMessage {
	msg := TCPReceiverMessage{
		RST: rc.reassembler.Writer().HasError(),
	}

	windowSize := rc.reassembler.Writer().AvailableCapacity()
	if windowSize > math.MaxUint16 {
		windowSize = math.MaxUint16
	}
	msg.WindowSize = uint16(windowSize)

	if rc.synSeen {
		asn := rc.firstUnassembledASN()
		if rc.finished {
			asn++
		}
		ackno := Wrap(asn, rc.zeroPoint)
		msg.Ackno = &ackno
	}
	return msg
}
