package audio

import (
	"bytes"
	"testing"
)

func TestRingBuffer_Write(t *testing.T) {
	rb := NewRingBuffer(10)

	written := rb.Write([]byte{1, 2, 3, 4, 5})
	if written != 5 {
		t.Errorf("Expected to write 5 bytes, got %d", written)
	}
	if rb.Available() != 5 {
		t.Errorf("Expected available 5, got %d", rb.Available())
	}

	written = rb.Write([]byte{6, 7, 8})
	if written != 3 {
		t.Errorf("Expected to write 3 bytes, got %d", written)
	}
	if rb.Available() != 8 {
		t.Errorf("Expected available 8, got %d", rb.Available())
	}
}

func TestRingBuffer_WriteOverflow(t *testing.T) {
	rb := NewRingBuffer(5)

	// Capacity is size-1 to avoid full/empty ambiguity
	rb.Write([]byte{1, 2, 3, 4})
	if !rb.IsFull() {
		t.Error("Expected buffer to be full after writing size-1 bytes")
	}

	written := rb.Write([]byte{5, 6})
	if written != 0 {
		t.Errorf("Expected to write 0 bytes to full buffer, got %d", written)
	}
	if rb.Available() != 4 {
		t.Errorf("Expected available 4 after overflow, got %d", rb.Available())
	}
}

func TestRingBuffer_PartialWrite(t *testing.T) {
	rb := NewRingBuffer(5)

	written := rb.Write([]byte{1, 2, 3, 4, 5, 6})
	if written != 4 {
		t.Errorf("Expected partial write of 4 bytes, got %d", written)
	}

	out := make([]byte, 4)
	rb.Read(out)
	if !bytes.Equal(out, []byte{1, 2, 3, 4}) {
		t.Errorf("Read incorrect data after partial write: %v", out)
	}
}

func TestRingBuffer_Read(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Write([]byte{1, 2, 3, 4, 5})

	readBuf := make([]byte, 3)
	read := rb.Read(readBuf)
	if read != 3 {
		t.Errorf("Expected to read 3 bytes, got %d", read)
	}
	if !bytes.Equal(readBuf, []byte{1, 2, 3}) {
		t.Errorf("Read incorrect data: %v", readBuf)
	}
	if rb.Available() != 2 {
		t.Errorf("Expected available 2 after read, got %d", rb.Available())
	}
}

func TestRingBuffer_ReadEmpty(t *testing.T) {
	rb := NewRingBuffer(10)

	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty initially")
	}

	readBuf := make([]byte, 5)
	if read := rb.Read(readBuf); read != 0 {
		t.Errorf("Expected to read 0 bytes from empty buffer, got %d", read)
	}
}

func TestRingBuffer_WrapAround(t *testing.T) {
	rb := NewRingBuffer(5)

	rb.Write([]byte{1, 2, 3, 4})

	readBuf := make([]byte, 2)
	rb.Read(readBuf)

	rb.Write([]byte{5, 6})
	if rb.Available() != 4 {
		t.Errorf("Expected available 4, got %d", rb.Available())
	}

	readBuf = make([]byte, 4)
	read := rb.Read(readBuf)
	if read != 4 {
		t.Errorf("Expected to read 4 bytes, got %d", read)
	}
	if !bytes.Equal(readBuf, []byte{3, 4, 5, 6}) {
		t.Errorf("Expected [3 4 5 6], got %v", readBuf)
	}
}

func TestRingBuffer_Drain(t *testing.T) {
	rb := NewRingBuffer(10)

	if got := rb.Drain(); got != nil {
		t.Errorf("Expected nil from empty Drain, got %v", got)
	}

	rb.Write([]byte{1, 2, 3, 4, 5})
	got := rb.Drain()
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("Expected [1 2 3 4 5], got %v", got)
	}
	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty after Drain")
	}
}

func TestRingBuffer_DrainAfterWrap(t *testing.T) {
	rb := NewRingBuffer(5)

	rb.Write([]byte{1, 2, 3, 4})
	rb.Read(make([]byte, 3))
	rb.Write([]byte{5, 6, 7})

	got := rb.Drain()
	if !bytes.Equal(got, []byte{4, 5, 6, 7}) {
		t.Errorf("Expected [4 5 6 7], got %v", got)
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(10)

	rb.Write([]byte{1, 2, 3, 4, 5})
	rb.Clear()
	if rb.Available() != 0 {
		t.Errorf("Expected available 0 after clear, got %d", rb.Available())
	}
	if !rb.IsEmpty() {
		t.Error("Expected buffer to be empty after clear")
	}
}

func TestConcat(t *testing.T) {
	tests := []struct {
		name   string
		chunks [][]byte
		want   []byte
	}{
		{"empty", nil, nil},
		{"single", [][]byte{{1, 2, 3}}, []byte{1, 2, 3}},
		{"ordered", [][]byte{{1, 2}, {3}, {4, 5, 6}}, []byte{1, 2, 3, 4, 5, 6}},
		{"with empty chunk", [][]byte{{1}, {}, {2}}, []byte{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Concat(tt.chunks)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Concat() = %v, want %v", got, tt.want)
			}
		})
	}
}
