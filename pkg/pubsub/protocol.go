package pubsub

import (
	"bytes"
	"fmt"

	"github.com/ugorji/go/codec"
)

// EnvelopeType is the type of message sent between a websocket channel and
// the hub.
type EnvelopeType uint8

const (
	// EnvelopeTypeSubscribe subscribes the connection to a topic.
	EnvelopeTypeSubscribe EnvelopeType = iota + 1
	// EnvelopeTypeUnsubscribe unsubscribes the connection from a topic.
	EnvelopeTypeUnsubscribe
	// EnvelopeTypePublish publishes data to a topic.
	EnvelopeTypePublish
	// EnvelopeTypeMessage delivers published data to a subscriber.
	EnvelopeTypeMessage
)

func (t EnvelopeType) String() string {
	switch t {
	case EnvelopeTypeSubscribe:
		return "subscribe"
	case EnvelopeTypeUnsubscribe:
		return "unsubscribe"
	case EnvelopeTypePublish:
		return "publish"
	case EnvelopeTypeMessage:
		return "message"
	default:
		return "unknown"
	}
}

const (
	supportedVersion uint8 = 0
)

// Envelope is a message sent between a websocket channel and the hub.
//
// Each envelope is sent as a single binary websocket message, containing a
// 2 byte header (type and version) followed by the msgpack encoded envelope
// body.
type Envelope struct {
	Type EnvelopeType `codec:"-"`

	Topic string `codec:"topic"`
	// From is the ID of the publishing channel. Only set by the hub on
	// 'message' envelopes.
	From string `codec:"from,omitempty"`
	Data []byte `codec:"data,omitempty"`
}

func EncodeEnvelope(e *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	_ = buf.WriteByte(uint8(e.Type))
	_ = buf.WriteByte(supportedVersion)

	var handle codec.MsgpackHandle
	if err := codec.NewEncoder(&buf, &handle).Encode(e); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeEnvelope(b []byte) (*Envelope, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("envelope too small: %d", len(b))
	}

	typ := EnvelopeType(b[0])
	switch typ {
	case EnvelopeTypeSubscribe,
		EnvelopeTypeUnsubscribe,
		EnvelopeTypePublish,
		EnvelopeTypeMessage:
	default:
		return nil, fmt.Errorf("unknown envelope type: %d", b[0])
	}
	if b[1] != supportedVersion {
		return nil, fmt.Errorf("unsupported version: %d", b[1])
	}

	var e Envelope
	var handle codec.MsgpackHandle
	if err := codec.NewDecoderBytes(b[2:], &handle).Decode(&e); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	e.Type = typ

	if e.Topic == "" {
		return nil, fmt.Errorf("%s: missing topic", typ)
	}
	return &e, nil
}
