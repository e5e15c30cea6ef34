package protocol

// TransmitFunc is the caller-supplied sink for outgoing segments. It must
// not block.
type TransmitFunc func(TCPSenderMessage)

// Retransmitter tracks the sender's unacknowledged segments and the
// retransmission timer. The timer is active exactly while segments are
// outstanding.
type Retransmitter struct {
	isn        Wrap32
	initialRTO uint64

	unacked     []TCPSenderMessage
	elapsed     uint64
	consecutive uint64
	timerActive bool
}

func NewRetransmitter(isn Wrap32, initialRTOms uint64) *Retransmitter {
	return &Retransmitter{isn: isn, initialRTO: initialRTOms}
}

// RecordSent appends a transmitted segment to the unacknowledged list.
// Segments occupying no sequence numbers are not tracked.
func (rt *Retransmitter) RecordSent(msg TCPSenderMessage) {
	if msg.SequenceLength() == 0 {
		return
	}
	rt.unacked = append(rt.unacked, msg)
	rt.timerActive = true
}

// OnAck handles an acknowledgment that moved the first acceptable sequence
// number forward: the timer and backoff count restart, and segments that
// are now fully acknowledged leave the list.
func (rt *Retransmitter) OnAck(oldFirstAcceptable, newFirstAcceptable uint64) {
	rt.elapsed = 0
	rt.consecutive = 0

	for len(rt.unacked) > 0 {
		earliest := rt.unacked[0]
		afterFinal := earliest.Seqno.Unwrap(rt.isn, oldFirstAcceptable) + earliest.SequenceLength()
		if newFirstAcceptable < afterFinal {
			break
		}
		rt.unacked = rt.unacked[1:]
	}
	if len(rt.unacked) == 0 {
		rt.timerActive = false
	}
}

// Tick advances the timer. On expiry the oldest unacknowledged segment is
// retransmitted as-is and the timer restarts. The backoff count only grows
// while the peer advertises a non-zero window, so zero-window probes don't
// inflate the timeout.
func (rt *Retransmitter) Tick(ms uint64, windowNonZero bool, transmit TransmitFunc) {
	if !rt.timerActive {
		return
	}
	rt.elapsed += ms

	timeout := rt.initialRTO << rt.consecutive
	if rt.elapsed < timeout || len(rt.unacked) == 0 {
		return
	}

	transmit(rt.unacked[0])
	rt.elapsed = 0
	if windowNonZero {
		rt.consecutive++
	}
}

// SequenceNumbersInFlight sums the sequence lengths of all unacknowledged
// segments.
func (rt *Retransmitter) SequenceNumbersInFlight() uint64 {
	var total uint64
	for _, msg := range rt.unacked {
		total += msg.SequenceLength()
	}
	return total
}

func (rt *Retransmitter) ConsecutiveRetransmissions() uint64 {
	return rt.consecutive
}
