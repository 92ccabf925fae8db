package sockframe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

const (
	// HeaderSeparator terminates the header text on the wire.
	HeaderSeparator = "\nHEADER_END\n"
	// HeaderLength is the header key holding the declared body length.
	HeaderLength = "length"
	// ChunkSize is the read and write unit for message bodies.
	ChunkSize = 8096
	// MaxHeaderSize bounds the header text accumulated before the separator.
	MaxHeaderSize = 64 * 1024
	// NoTimeout disables both socket and framing deadlines.
	NoTimeout time.Duration = -1
	// LengthUnknown is the declared length of a message whose header has not been parsed.
	LengthUnknown int64 = -1
)

var separator = []byte(HeaderSeparator)

// ErrMalformedHeader indicates header text that does not decode or lacks a valid length.
var ErrMalformedHeader = errors.New("malformed message header")

// ErrIncompleteMessage indicates the stream ended before the declared body length was read.
var ErrIncompleteMessage = errors.New("incomplete message")

// ErrTimeout indicates a framing deadline elapsed mid receive or reply.
var ErrTimeout = errors.New("framing timeout")

// Header is the flat key/value structure sent ahead of each message body.
type Header map[string]any

// Length returns the declared body length.
func (h Header) Length() (int64, error) {
	v, ok := h[HeaderLength]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrMalformedHeader, HeaderLength)
	}

	var n int64
	switch t := v.(type) {
	case json.Number:
		i, err := strconv.ParseInt(t.String(), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(t.String(), 64)
			if ferr != nil || !integral(f) {
				return 0, fmt.Errorf("%w: %q is not an integer: %s", ErrMalformedHeader, HeaderLength, t)
			}
			i = int64(f)
		}
		n = i
	case float64:
		if !integral(t) {
			return 0, fmt.Errorf("%w: %q is not an integer: %v", ErrMalformedHeader, HeaderLength, t)
		}
		n = int64(t)
	case int:
		n = int64(t)
	case int64:
		n = t
	default:
		return 0, fmt.Errorf("%w: %q has type %T", ErrMalformedHeader, HeaderLength, v)
	}

	if n < 0 {
		return 0, fmt.Errorf("%w: negative length %d", ErrMalformedHeader, n)
	}

	return n, nil
}

// integral reports whether f is a whole number that fits in an int64.
func integral(f float64) bool {
	return f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64
}

// HeaderCodec serializes message headers.
type HeaderCodec interface {
	Encode(Header) ([]byte, error)
	Decode([]byte) (Header, error)
}

// JSONHeaderCodec encodes headers as a flat JSON object.
type JSONHeaderCodec struct{}

// Encode marshals h with sorted keys.
func (JSONHeaderCodec) Encode(h Header) ([]byte, error) {
	return json.Marshal(map[string]any(h))
}

// Decode parses text into a Header, keeping numbers exact.
func (JSONHeaderCodec) Decode(text []byte) (Header, error) {
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()

	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after header object", ErrMalformedHeader)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: header is not an object", ErrMalformedHeader)
	}

	return h, nil
}

// DefaultHeaderCodec is used when no codec is configured.
var DefaultHeaderCodec HeaderCodec = JSONHeaderCodec{}

// encodePreamble returns the header text and separator for a body of n bytes.
// Keys in extra are copied; the length key is always overwritten.
func encodePreamble(codec HeaderCodec, extra Header, n int) ([]byte, error) {
	h := make(Header, len(extra)+1)
	for k, v := range extra {
		h[k] = v
	}
	h[HeaderLength] = n

	text, err := codec.Encode(h)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	return append(text, separator...), nil
}

// EncodeMessage returns the complete wire form of payload.
func EncodeMessage(codec HeaderCodec, payload []byte) ([]byte, error) {
	if codec == nil {
		codec = DefaultHeaderCodec
	}

	pre, err := encodePreamble(codec, nil, len(payload))
	if err != nil {
		return nil, err
	}

	return append(pre, payload...), nil
}

// DecodeMessage reads exactly one message from r without any deadline.
// Bytes past the end of the message are discarded; use a Conn to keep them.
func DecodeMessage(r io.Reader, codec HeaderCodec) (*Message, error) {
	if codec == nil {
		codec = DefaultHeaderCodec
	}
	fr := &frameReader{r: r, codec: codec}

	return fr.readMessage(time.Time{})
}

// frameReader reassembles messages from a byte stream.
type frameReader struct {
	r     io.Reader
	codec HeaderCodec
	// arm is called before every read with the framing deadline.
	arm func(deadline time.Time) error
	// pending holds bytes read past the previous message.
	pending []byte
}

// assembly is the in-progress state of one message.
type assembly struct {
	msg    *Message
	header []byte
}

func (fr *frameReader) readMessage(deadline time.Time) (*Message, error) {
	a := &assembly{msg: newMessage()}

	if len(fr.pending) > 0 {
		data := fr.pending
		fr.pending = nil
		if err := fr.feed(a, data); err != nil {
			return nil, err
		}
		if a.msg.Complete() {
			return a.msg, nil
		}
	}

	buf := getChunk()
	defer putChunk(buf)

	for {
		if fr.arm != nil {
			if err := fr.arm(deadline); err != nil {
				return nil, err
			}
		}

		n, err := fr.r.Read(*buf)
		if n > 0 {
			if ferr := fr.feed(a, (*buf)[:n]); ferr != nil {
				return nil, ferr
			}
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: receive exceeded deadline", ErrTimeout)
		}

		if a.msg.Complete() {
			return a.msg, nil
		}

		if err != nil {
			return nil, classifyReadErr(a, err)
		}
	}
}

// feed appends data to the header or body accumulator.
func (fr *frameReader) feed(a *assembly, data []byte) error {
	if a.msg.TotalLength == LengthUnknown {
		from := len(a.header) - len(separator) + 1
		if from < 0 {
			from = 0
		}
		a.header = append(a.header, data...)

		idx := bytes.Index(a.header[from:], separator)
		if idx < 0 {
			if len(a.header) > MaxHeaderSize {
				return fmt.Errorf("%w: no separator within %d bytes", ErrMalformedHeader, MaxHeaderSize)
			}
			return nil
		}
		idx += from

		h, err := fr.codec.Decode(a.header[:idx])
		if err != nil {
			if !errors.Is(err, ErrMalformedHeader) {
				err = fmt.Errorf("%w: %v", ErrMalformedHeader, err)
			}
			return err
		}
		length, err := h.Length()
		if err != nil {
			return err
		}

		a.msg.Header = h
		a.msg.TotalLength = length
		a.msg.Body = make([]byte, 0, initialBodyCap(length))

		rest := a.header[idx+len(separator):]
		a.header = nil
		data = rest
	}

	need := a.msg.TotalLength - int64(len(a.msg.Body))
	if int64(len(data)) > need {
		fr.pending = append(fr.pending, data[need:]...)
		data = data[:need]
	}
	a.msg.Body = append(a.msg.Body, data...)

	return nil
}

func initialBodyCap(length int64) int {
	const maxInitial = 1 << 20
	if length > maxInitial {
		return maxInitial
	}
	return int(length)
}

func classifyReadErr(a *assembly, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if a.msg.TotalLength == LengthUnknown {
			return fmt.Errorf("%w: stream ended after %d header bytes: %w", ErrIncompleteMessage, len(a.header), io.EOF)
		}
		return fmt.Errorf("%w: got %d of %d body bytes: %w",
			ErrIncompleteMessage, len(a.msg.Body), a.msg.TotalLength, io.EOF)
	}

	if isTimeout(err) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return err
}
