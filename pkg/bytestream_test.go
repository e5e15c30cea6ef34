package protocol

import (
	"bytes"
	"testing"
)

func TestByteStreamBasicWriteRead(t *testing.T) {
	stream := NewByteStream(15)
	writer := stream.Writer()
	reader := stream.Reader()

	writer.Push([]byte("hello"))
	if got := writer.BytesPushed(); got != 5 {
		t.Fatalf("BytesPushed = %d, want 5", got)
	}
	if got := writer.AvailableCapacity(); got != 10 {
		t.Fatalf("AvailableCapacity = %d, want 10", got)
	}
	if got := reader.Peek(); !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("Peek = %q, want %q", got, "hello")
	}

	reader.Pop(2)
	if got := reader.Peek(); !bytes.Equal(got, []byte("llo")) {
		t.Fatalf("Peek after pop = %q, want %q", got, "llo")
	}
	if got := reader.BytesPopped(); got != 2 {
		t.Fatalf("BytesPopped = %d, want 2", got)
	}
	if got := reader.BytesBuffered(); got != 3 {
		t.Fatalf("BytesBuffered = %d, want 3", got)
	}
}

func TestByteStreamCapacityLimit(t *testing.T) {
	stream := NewByteStream(4)
	writer := stream.Writer()
	reader := stream.Reader()

	writer.Push([]byte("abcdef"))
	if got := reader.Peek(); !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("Peek = %q, want %q (overflow silently dropped)", got, "abcd")
	}
	if got := writer.BytesPushed(); got != 4 {
		t.Fatalf("BytesPushed = %d, want 4", got)
	}
	if got := writer.AvailableCapacity(); got != 0 {
		t.Fatalf("AvailableCapacity = %d, want 0", got)
	}

	// Freeing space lets new bytes in.
	reader.Pop(2)
	writer.Push([]byte("xyz"))
	if got := reader.Peek(); !bytes.Equal(got, []byte("cdxy")) {
		t.Fatalf("Peek = %q, want %q", got, "cdxy")
	}
}

func TestByteStreamClose(t *testing.T) {
	stream := NewByteStream(10)
	writer := stream.Writer()
	reader := stream.Reader()

	writer.Push([]byte("ab"))
	writer.Close()
	if !writer.IsClosed() {
		t.Fatal("IsClosed = false after Close")
	}
	if reader.IsFinished() {
		t.Fatal("IsFinished = true with bytes still buffered")
	}

	// Pushing after close is a no-op.
	writer.Push([]byte("cd"))
	if got := writer.BytesPushed(); got != 2 {
		t.Fatalf("BytesPushed after closed push = %d, want 2", got)
	}

	reader.Pop(2)
	if !reader.IsFinished() {
		t.Fatal("IsFinished = false after close and drain")
	}

	// Close is idempotent.
	writer.Close()
	if !writer.IsClosed() {
		t.Fatal("IsClosed = false after second Close")
	}
}

func TestByteStreamError(t *testing.T) {
	stream := NewByteStream(10)
	writer := stream.Writer()
	reader := stream.Reader()

	writer.Push([]byte("abc"))
	reader.SetError()
	if !writer.HasError() || !reader.HasError() {
		t.Fatal("error flag not visible from both halves")
	}

	// Errored stream refuses pushes and pops.
	writer.Push([]byte("def"))
	if got := writer.BytesPushed(); got != 3 {
		t.Fatalf("BytesPushed after errored push = %d, want 3", got)
	}
	reader.Pop(1)
	if got := reader.BytesPopped(); got != 0 {
		t.Fatalf("BytesPopped after errored pop = %d, want 0", got)
	}

	// Error does not finish the stream.
	if reader.IsFinished() {
		t.Fatal("IsFinished = true on errored unclosed stream")
	}
}

func TestByteStreamInvariants(t *testing.T) {
	stream := NewByteStream(8)
	writer := stream.Writer()
	reader := stream.Reader()

	ops := []struct {
		push []byte
		pop  uint64
	}{
		{push: []byte("abcd")},
		{pop: 2},
		{push: []byte("efghijk")},
		{pop: 8},
		{push: []byte("z")},
	}
	for _, op := range ops {
		if op.push != nil {
			writer.Push(op.push)
		} else {
			reader.Pop(op.pop)
		}
		if writer.BytesPushed() < reader.BytesPopped() {
			t.Fatalf("pushed %d < popped %d", writer.BytesPushed(), reader.BytesPopped())
		}
		if got := writer.BytesPushed() - reader.BytesPopped(); got != reader.BytesBuffered() {
			t.Fatalf("buffered = %d, want pushed-popped = %d", reader.BytesBuffered(), got)
		}
		if reader.BytesBuffered() > 8 {
			t.Fatalf("buffered %d exceeds capacity", reader.BytesBuffered())
		}
	}
}
