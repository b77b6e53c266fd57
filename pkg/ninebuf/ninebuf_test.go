package ninebuf

import (
	"bytes"
	"testing"
)

func TestUint8RoundTrip(t *testing.T) {
	buf := NewBuffer(16)
	buf.WriteUint8(0)
	buf.WriteUint8(127)
	buf.WriteUint8(255)

	r := NewReader(buf.Bytes())
	for _, want := range []uint8{0, 127, 255} {
		got, err := r.ReadUint8()
		if err != nil {
			t.Fatalf("ReadUint8: %v", err)
		}
		if got != want {
			t.Errorf("ReadUint8 = %d, want %d", got, want)
		}
	}
}

func TestUint16RoundTrip(t *testing.T) {
	buf := NewBuffer(16)
	values := []uint16{0, 1, 256, 0xFFFF}
	for _, v := range values {
		buf.WriteUint16(v)
	}

	r := NewReader(buf.Bytes())
	for _, want := range values {
		got, err := r.ReadUint16()
		if err != nil {
			t.Fatalf("ReadUint16: %v", err)
		}
		if got != want {
			t.Errorf("ReadUint16 = %d, want %d", got, want)
		}
	}
}

func TestUint32RoundTrip(t *testing.T) {
	buf := NewBuffer(16)
	values := []uint32{0, 1, 1000000, 0xFFFFFFFF}
	for _, v := range values {
		buf.WriteUint32(v)
	}

	r := NewReader(buf.Bytes())
	for _, want := range values {
		got, err := r.ReadUint32()
		if err != nil {
			t.Fatalf("ReadUint32: %v", err)
		}
		if got != want {
			t.Errorf("ReadUint32 = %d, want %d", got, want)
		}
	}
}

func TestUint64RoundTrip(t *testing.T) {
	buf := NewBuffer(16)
	values := []uint64{0, 1, 1 << 40, 0xFFFFFFFFFFFFFFFF}
	for _, v := range values {
		buf.WriteUint64(v)
	}

	r := NewReader(buf.Bytes())
	for _, want := range values {
		got, err := r.ReadUint64()
		if err != nil {
			t.Fatalf("ReadUint64: %v", err)
		}
		if got != want {
			t.Errorf("ReadUint64 = %d, want %d", got, want)
		}
	}
}

func TestLittleEndianLayout(t *testing.T) {
	buf := NewBuffer(8)
	buf.WriteUint32(0x01020304)
	want := []byte{0x04, 0x03, 0x02, 0x01}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("layout = %v, want %v", buf.Bytes(), want)
	}
}

func TestStringRoundTrip(t *testing.T) {
	buf := NewBuffer(64)
	values := []string{"", "hello", "a/b.txt", "unicode: äöü☃"}
	for _, v := range values {
		buf.WriteString(v)
	}

	r := NewReader(buf.Bytes())
	for _, want := range values {
		got, err := r.ReadString()
		if err != nil {
			t.Fatalf("ReadString: %v", err)
		}
		if got != want {
			t.Errorf("ReadString = %q, want %q", got, want)
		}
	}
}

func TestStringPrefixIsUint16(t *testing.T) {
	buf := NewBuffer(16)
	buf.WriteString("9P2000")
	b := buf.Bytes()
	if len(b) != 2+6 {
		t.Fatalf("encoded length = %d, want 8", len(b))
	}
	if b[0] != 6 || b[1] != 0 {
		t.Errorf("prefix = [%d %d], want [6 0]", b[0], b[1])
	}
}

func TestDataRoundTrip(t *testing.T) {
	buf := NewBuffer(64)
	values := [][]byte{{}, {0x00}, {0xDE, 0xAD, 0xBE, 0xEF}, make([]byte, 300)}
	for i := range values[3] {
		values[3][i] = byte(i)
	}
	for _, v := range values {
		buf.WriteData(v)
	}

	r := NewReader(buf.Bytes())
	for i, want := range values {
		got, err := r.ReadData()
		if err != nil {
			t.Fatalf("ReadData[%d]: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("ReadData[%d] mismatch (len %d vs %d)", i, len(got), len(want))
		}
	}
}

func TestReadBeyondBuffer(t *testing.T) {
	r := NewReader([]byte{0xAA, 0xBB})
	if _, err := r.ReadUint32(); err != ErrShortBuffer {
		t.Errorf("ReadUint32 on 2 bytes: got %v, want ErrShortBuffer", err)
	}
	r2 := NewReader([]byte{})
	if _, err := r2.ReadUint8(); err != ErrShortBuffer {
		t.Errorf("ReadUint8 on empty: got %v, want ErrShortBuffer", err)
	}
}

func TestOversizedStringLength(t *testing.T) {
	// A 16-bit length prefix declaring more bytes than the buffer holds
	// must fail, not read past the end.
	r := NewReader([]byte{0xFF, 0xFF, 'x'})
	if _, err := r.ReadString(); err != ErrShortBuffer {
		t.Errorf("oversized string length: got %v, want ErrShortBuffer", err)
	}
}

func TestOversizedDataLength(t *testing.T) {
	r := NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x01})
	if _, err := r.ReadData(); err != ErrShortBuffer {
		t.Errorf("oversized data length: got %v, want ErrShortBuffer", err)
	}
}

func TestReaderExhaustion(t *testing.T) {
	buf := NewBuffer(4)
	buf.WriteUint32(999)

	r := NewReader(buf.Bytes())
	v, err := r.ReadUint32()
	if err != nil {
		t.Fatalf("first ReadUint32: %v", err)
	}
	if v != 999 {
		t.Errorf("first ReadUint32 = %d, want 999", v)
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", r.Remaining())
	}
	if _, err := r.ReadUint8(); err != ErrShortBuffer {
		t.Errorf("after exhaustion: got %v, want ErrShortBuffer", err)
	}
}

func TestBufferGrowth(t *testing.T) {
	buf := NewBuffer(1)
	for i := 0; i < 1000; i++ {
		buf.WriteUint32(uint32(i))
	}
	if buf.Len() != 4000 {
		t.Errorf("buf.Len() = %d, want 4000", buf.Len())
	}

	r := NewReader(buf.Bytes())
	for i := 0; i < 1000; i++ {
		got, err := r.ReadUint32()
		if err != nil {
			t.Fatalf("ReadUint32[%d]: %v", i, err)
		}
		if got != uint32(i) {
			t.Errorf("ReadUint32[%d] = %d, want %d", i, got, i)
		}
	}
}

func TestBufferReset(t *testing.T) {
	buf := NewBuffer(16)
	buf.WriteUint32(42)
	if buf.Len() != 4 {
		t.Fatalf("before reset: Len = %d", buf.Len())
	}
	buf.Reset()
	if buf.Len() != 0 {
		t.Fatalf("after reset: Len = %d", buf.Len())
	}
	buf.WriteUint32(99)
	r := NewReader(buf.Bytes())
	got, err := r.ReadUint32()
	if err != nil {
		t.Fatalf("ReadUint32 after reset: %v", err)
	}
	if got != 99 {
		t.Errorf("got %d, want 99", got)
	}
}

func TestReadBytesFixed(t *testing.T) {
	buf := NewBuffer(16)
	buf.WriteBytes([]byte{1, 2, 3, 4, 5})

	r := NewReader(buf.Bytes())
	got, err := r.ReadBytes(5)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("ReadBytes = %v", got)
	}
	if _, err := r.ReadBytes(1); err != ErrShortBuffer {
		t.Errorf("ReadBytes past end: got %v, want ErrShortBuffer", err)
	}
}
