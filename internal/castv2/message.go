package castv2

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Well-known endpoints and namespaces.
const (
	DefaultSenderID   = "sender-0"
	PlatformReceiver  = "receiver-0"
	DefaultPort       = 8009
	NamespaceConn     = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeart    = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceReceiver = "urn:x-cast:com.google.cast.receiver"
	NamespaceMedia    = "urn:x-cast:com.google.cast.media"
)

// maxFrameSize matches the receiver-side limit.
const maxFrameSize = 64 * 1024

// CastMessage field numbers.
const (
	fieldProtocolVersion protowire.Number = 1
	fieldSourceID        protowire.Number = 2
	fieldDestinationID   protowire.Number = 3
	fieldNamespace       protowire.Number = 4
	fieldPayloadType     protowire.Number = 5
	fieldPayloadUTF8     protowire.Number = 6
	fieldPayloadBinary   protowire.Number = 7
)

const (
	payloadTypeString = 0
	payloadTypeBinary = 1
)

// Message is one CastMessage. Protocol version is always CASTV2_1_0.
type Message struct {
	SourceID      string
	DestinationID string
	Namespace     string
	PayloadUTF8   string
	PayloadBinary []byte
	Binary        bool
}

// Marshal encodes m as a protobuf CastMessage.
func (m Message) Marshal() []byte {
	b := make([]byte, 0, 32+len(m.SourceID)+len(m.DestinationID)+len(m.Namespace)+len(m.PayloadUTF8)+len(m.PayloadBinary))
	b = protowire.AppendTag(b, fieldProtocolVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, 0)
	b = protowire.AppendTag(b, fieldSourceID, protowire.BytesType)
	b = protowire.AppendString(b, m.SourceID)
	b = protowire.AppendTag(b, fieldDestinationID, protowire.BytesType)
	b = protowire.AppendString(b, m.DestinationID)
	b = protowire.AppendTag(b, fieldNamespace, protowire.BytesType)
	b = protowire.AppendString(b, m.Namespace)
	b = protowire.AppendTag(b, fieldPayloadType, protowire.VarintType)
	if m.Binary {
		b = protowire.AppendVarint(b, payloadTypeBinary)
		b = protowire.AppendTag(b, fieldPayloadBinary, protowire.BytesType)
		b = protowire.AppendBytes(b, m.PayloadBinary)
	} else {
		b = protowire.AppendVarint(b, payloadTypeString)
		b = protowire.AppendTag(b, fieldPayloadUTF8, protowire.BytesType)
		b = protowire.AppendString(b, m.PayloadUTF8)
	}
	return b
}

// Unmarshal decodes a protobuf CastMessage. Unknown fields are skipped.
func Unmarshal(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, fmt.Errorf("%w: tag: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && num >= fieldSourceID && num <= fieldPayloadBinary && num != fieldPayloadType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSourceID:
				m.SourceID = string(v)
			case fieldDestinationID:
				m.DestinationID = string(v)
			case fieldNamespace:
				m.Namespace = string(v)
			case fieldPayloadUTF8:
				m.PayloadUTF8 = string(v)
			case fieldPayloadBinary:
				m.PayloadBinary = append([]byte(nil), v...)
			}
		case typ == protowire.VarintType && num == fieldPayloadType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: payload type: %w", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			m.Binary = v == payloadTypeBinary
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

// writeFrame writes one length-prefixed message.
func writeFrame(w io.Writer, m Message) error {
	body := m.Marshal()
	if len(body) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body))) // #nosec G115 -- bounded above
	copy(frame[4:], body)
	_, err := w.Write(frame)
	return err
}

// readFrame reads one length-prefixed message. An oversized frame is fatal:
// the stream cannot be resynchronised.
func readFrame(r io.Reader) (Message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > maxFrameSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, err
	}
	return Unmarshal(body)
}
