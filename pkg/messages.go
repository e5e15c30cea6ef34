package protocol

// TCPSenderMessage is the sender-to-receiver half of a TCP segment: the
// sequence number of its first byte plus the SYN/FIN/RST flags and payload.
type TCPSenderMessage struct {
	Seqno   Wrap32
	SYN     bool
	Payload []byte
	FIN     bool
	RST     bool
}

// SequenceLength is the number of sequence numbers the message occupies.
// SYN and FIN each count for one, as does every payload byte.
func (m TCPSenderMessage) SequenceLength() uint64 {
	n := uint64(len(m.Payload))
	if m.SYN {
		n++
	}
	if m.FIN {
		n++
	}
	return n
}

// TCPReceiverMessage is the receiver-to-sender half of a TCP segment. Ackno
// is nil until the receiver has seen a SYN.
type TCPReceiverMessage struct {
	Ackno      *Wrap32
	WindowSize uint16
	RST        bool
}

// TCPMessage is a full segment exchanged between two peers: both directions'
// halves ride in one wire segment.
type TCPMessage struct {
	Sender   TCPSenderMessage
	Receiver TCPReceiverMessage
}
