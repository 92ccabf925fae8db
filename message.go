package sockframe

import "net"

// Message is one received request or reply.
type Message struct {
	// TotalLength is the declared body length, LengthUnknown until the header is parsed.
	TotalLength int64
	Header      Header
	Body        []byte
	RemoteAddr  net.Addr
}

func newMessage() *Message {
	return &Message{TotalLength: LengthUnknown}
}

// Complete reports whether the whole declared body has been accumulated.
func (m *Message) Complete() bool {
	return m.TotalLength != LengthUnknown && int64(len(m.Body)) == m.TotalLength
}

// String returns the body as text.
func (m *Message) String() string {
	return string(m.Body)
}
