package codec

import "bytes"

const (
	// StartMarker opens every frame on the wire.
	StartMarker byte = '$'
	// EndMarker closes every frame on the wire.
	EndMarker byte = '!'
	// FieldSeparator separates message fields inside a frame.
	FieldSeparator byte = ';'
	// LineTerminator is appended to outbound frames by the writer only.
	LineTerminator byte = '\n'

	// GarbageThreshold is the number of buffered bytes without any start
	// marker after which the Framer discards its buffer.
	GarbageThreshold = 1024
)

// Frame is a complete delimited unit extracted from the byte stream,
// markers included.
type Frame []byte

// Payload returns the bytes between the start and end markers.
func (f Frame) Payload() []byte {
	if len(f) < 2 || f[0] != StartMarker || f[len(f)-1] != EndMarker {
		return nil
	}
	return f[1 : len(f)-1]
}

func (f Frame) String() string {
	return string(f)
}

// Framer incrementally extracts frames from a byte stream that may arrive in
// arbitrary chunks and carry garbage between frames. It does no I/O and is
// not safe for concurrent use; a transport owns exactly one.
type Framer struct {
	buf    []byte
	resets int
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Feed appends chunk to the internal buffer and returns every frame that is
// now complete, in arrival order. Bytes before a start marker are dropped.
// An unterminated start marker is kept for the next call.
func (f *Framer) Feed(chunk []byte) []Frame {
	if len(chunk) == 0 {
		return nil
	}
	f.buf = append(f.buf, chunk...)

	var frames []Frame
	for {
		start := bytes.IndexByte(f.buf, StartMarker)
		if start < 0 {
			if len(f.buf) > GarbageThreshold {
				f.buf = f.buf[:0]
				f.resets++
			}
			break
		}

		end := bytes.IndexByte(f.buf[start+1:], EndMarker)
		if end < 0 {
			f.compact(start)
			break
		}
		end += start + 1

		// A second start marker before the end marker means the first frame
		// was cut off; resync on the later one.
		if restart := bytes.LastIndexByte(f.buf[start+1:end], StartMarker); restart >= 0 {
			start += 1 + restart
		}

		frame := make(Frame, end-start+1)
		copy(frame, f.buf[start:end+1])
		frames = append(frames, frame)

		f.compact(end + 1)
	}

	return frames
}

// Buffered returns the number of bytes held for a future frame.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Resets returns how many times the garbage threshold cleared the buffer.
func (f *Framer) Resets() int {
	return f.resets
}

// Reset discards any buffered bytes.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

// compact drops the first n bytes of the buffer, reusing its storage.
func (f *Framer) compact(n int) {
	remaining := copy(f.buf, f.buf[n:])
	f.buf = f.buf[:remaining]
}
