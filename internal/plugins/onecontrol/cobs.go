package onecontrol

// COBS framing as the gateway speaks it: frames are delimited by 0x00,
// and each code byte packs a literal count in its low six bits plus a
// trailing zero-run count (in units of 64) in its high two bits. The
// last payload byte is a CRC8 over the rest.

const (
	frameChar        = 0x00
	maxDataBytes     = 63  // literal count mask, 2^6 - 1
	zeroRunUnit      = 64  // one trailing zero per 64 in the code byte
	maxCodeByte      = 192 // code bytes at or above this are invalid
	maxDecodedBytes  = 255 // longest event the gateway emits
	minFrameBytes    = 2   // one data byte plus the CRC
	crc8Polynomial   = 0x07
	crc8InitialValue = 0x55
)

// Crc8 computes the gateway's frame checksum.
func Crc8(data []byte) byte {
	crc := byte(crc8InitialValue)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ crc8Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// EncodeFrame wraps a command payload for the write characteristic:
// CRC8 appended, COBS encoded, leading and trailing frame delimiters.
func EncodeFrame(data []byte) []byte {
	payload := make([]byte, 0, len(data)+1)
	payload = append(payload, data...)
	payload = append(payload, Crc8(data))

	out := make([]byte, 0, len(payload)+4)
	out = append(out, frameChar)

	i := 0
	for i < len(payload) {
		code := 0
		start := i
		for i < len(payload) && payload[i] != frameChar && code < maxDataBytes {
			code++
			i++
		}
		literals := payload[start:i]
		for i < len(payload) && payload[i] == frameChar && code+zeroRunUnit < maxCodeByte {
			code += zeroRunUnit
			i++
		}
		out = append(out, byte(code))
		out = append(out, literals...)
	}

	out = append(out, frameChar)
	return out
}

// FrameDecoder reassembles COBS frames from a notification stream.
// Notifications split frames at arbitrary byte boundaries, so state
// carries across Push calls. Not safe for concurrent use.
type FrameDecoder struct {
	out     []byte
	code    int
	skip    bool // lost sync; discard until the next delimiter
	dropped int
}

// NewFrameDecoder returns an empty decoder.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Push consumes one notification and returns any frames completed by
// it. Frames that fail CRC or framing checks are counted and dropped;
// decoding always continues at the next delimiter.
func (d *FrameDecoder) Push(chunk []byte) [][]byte {
	var frames [][]byte
	for _, b := range chunk {
		if b == frameChar {
			if d.skip {
				d.Reset()
				continue
			}
			if frame, ok := d.finish(); ok {
				frames = append(frames, frame)
			}
			continue
		}
		if d.skip {
			continue
		}

		if d.code == 0 {
			if b >= maxCodeByte {
				d.dropped++
				d.Reset()
				d.skip = true
				continue
			}
			d.code = int(b)
		} else {
			d.code--
			d.out = append(d.out, b)
		}

		// The low bits count literals; once they are consumed the high
		// bits expand into trailing zeros.
		if d.code&maxDataBytes == 0 {
			for d.code > 0 {
				d.out = append(d.out, frameChar)
				d.code -= zeroRunUnit
			}
		}

		if len(d.out) > maxDecodedBytes {
			// Lost sync with the stream; wait for the next delimiter.
			d.dropped++
			d.Reset()
			d.skip = true
		}
	}
	return frames
}

// finish validates the buffered frame at a delimiter. An empty buffer
// is a start-of-frame marker, not an error.
func (d *FrameDecoder) finish() ([]byte, bool) {
	code, out := d.code, d.out
	d.Reset()

	if code != 0 {
		d.dropped++
		return nil, false
	}
	if len(out) == 0 {
		return nil, false
	}
	if len(out) < minFrameBytes {
		d.dropped++
		return nil, false
	}

	body, crc := out[:len(out)-1], out[len(out)-1]
	if Crc8(body) != crc {
		d.dropped++
		return nil, false
	}

	frame := make([]byte, len(body))
	copy(frame, body)
	return frame, true
}

// Reset discards any partial frame and resync state, for reuse across
// connections.
func (d *FrameDecoder) Reset() {
	d.out = d.out[:0]
	d.code = 0
	d.skip = false
}

// Dropped returns how many malformed frames have been discarded.
func (d *FrameDecoder) Dropped() int {
	return d.dropped
}
