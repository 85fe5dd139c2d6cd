package serial

// Device stream framing: frames are delimited by a sync byte, carry a
// one-byte payload length and end with an XOR checksum of the payload.
//
//	[0xAA][len][payload ...][xor]
//
// The decoder resynchronizes on the next sync byte after any framing
// error, so a corrupted frame costs at most its own bytes.

const (
	syncByte       = 0xAA
	maxPayloadSize = 255
)

// decoder is an incremental frame decoder over an arbitrary byte stream.
type decoder struct {
	buf []byte
}

// Feed appends raw bytes and extracts all complete frames. Malformed
// frames (bad checksum) are counted and skipped.
func (d *decoder) Feed(data []byte) (frames [][]byte, malformed int) {
	d.buf = append(d.buf, data...)

	for {
		// Scan to the next sync byte.
		start := -1
		for i, b := range d.buf {
			if b == syncByte {
				start = i
				break
			}
		}
		if start < 0 {
			d.buf = d.buf[:0]
			return frames, malformed
		}
		if start > 0 {
			d.buf = d.buf[start:]
		}

		// Need sync + length at minimum.
		if len(d.buf) < 2 {
			return frames, malformed
		}
		length := int(d.buf[1])
		if length == 0 {
			// Zero-length frame is invalid; skip the sync byte.
			d.buf = d.buf[1:]
			malformed++
			continue
		}

		total := 2 + length + 1
		if len(d.buf) < total {
			return frames, malformed
		}

		payload := d.buf[2 : 2+length]
		if xorChecksum(payload) != d.buf[2+length] {
			// Checksum mismatch. Drop the sync byte and rescan; the
			// real frame boundary may be inside what we just read.
			d.buf = d.buf[1:]
			malformed++
			continue
		}

		frame := make([]byte, length)
		copy(frame, payload)
		frames = append(frames, frame)
		d.buf = d.buf[total:]
	}
}

// Reset discards buffered stream state, used after a device reopen.
func (d *decoder) Reset() {
	d.buf = d.buf[:0]
}

func xorChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// Encode builds one wire frame around the payload. Used by tests and by
// tooling that simulates a device.
func Encode(payload []byte) []byte {
	if len(payload) == 0 || len(payload) > maxPayloadSize {
		return nil
	}
	out := make([]byte, 0, len(payload)+3)
	out = append(out, syncByte, byte(len(payload)))
	out = append(out, payload...)
	out = append(out, xorChecksum(payload))
	return out
}
