package protocol

// Reassembler accepts substrings of a byte stream, possibly out of order and
// possibly overlapping, and writes them to its ByteStream in order. Pending
// bytes live in a ring of capacity slots covering stream indices
// [firstUnassembled, firstUnassembled+capacity).
type Reassembler struct {
	output   *ByteStream
	capacity uint64

	pending []byte
	present []bool
	head    uint64 // ring slot holding index firstUnassembled

	endIndex    uint64 // one past the last byte of the stream
	endIndexSet bool

	scratch []byte
}

// NewReassembler constructs a Reassembler writing into output. The pending
// window matches the stream's capacity.
func NewReassembler(output *ByteStream) *Reassembler {
	capacity := output.Writer().AvailableCapacity()
	return &Reassembler{
		output:   output,
		capacity: capacity,
		pending:  make([]byte, capacity),
		present:  make([]bool, capacity),
	}
}

func (r *Reassembler) Writer() Writer {
	return r.output.Writer()
}

func (r *Reassembler) Reader() Reader {
	return r.output.Reader()
}

func (r *Reassembler) firstUnassembled() uint64 {
	return r.output.Writer().BytesPushed()
}

func (r *Reassembler) firstUnaccepted() uint64 {
	return r.firstUnassembled() + r.output.Writer().AvailableCapacity()
}

func (r *Reassembler) slot(streamIndex uint64) uint64 {
	return (r.head + (streamIndex - r.firstUnassembled())) % r.capacity
}

// Insert merges data, whose first byte has the given absolute stream index,
// into the stream. Bytes before the first unassembled index are already
// known; bytes at or past the available capacity are discarded for good.
// isLast marks data as the final substring of the stream.
func (r *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool) {
	if r.capacity > 0 {
		validFirst := max(firstIndex, r.firstUnassembled())
		validAfterFinal := min(firstIndex+uint64(len(data)), r.firstUnaccepted())
		for i := validFirst; i < validAfterFinal; i++ {
			s := r.slot(i)
			r.pending[s] = data[i-firstIndex]
			r.present[s] = true
		}
		r.drain()
	}

	if isLast {
		r.endIndex = firstIndex + uint64(len(data))
		r.endIndexSet = true
	}
	if r.endIndexSet && r.firstUnassembled() == r.endIndex {
		r.output.Writer().Close()
	}
}

// drain pushes the maximal contiguous run of pending bytes to the stream in
// one batch and releases their slots.
func (r *Reassembler) drain() {
	run := r.scratch[:0]
	for i := r.firstUnassembled(); i < r.firstUnaccepted(); i++ {
		s := r.slot(i)
		if !r.present[s] {
			break
		}
		run = append(run, r.pending[s])
	}
	if len(run) == 0 {
		return
	}
	r.scratch = run[:0]
	r.output.Writer().Push(run)
	for range run {
		r.present[r.head] = false
		r.head = (r.head + 1) % r.capacity
	}
}

// CountBytesPending reports how many bytes are buffered in the Reassembler
// itself, awaiting earlier gaps to fill.
func (r *Reassembler) CountBytesPending() uint64 {
	var count uint64
	for i := r.firstUnassembled(); i < r.firstUnaccepted(); i++ {
		if r.present[r.slot(i)] {
			count++
		}
	}
	return count
}
