package replication

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/andydunstall/setdb/pkg/blob"
	"github.com/andydunstall/setdb/pkg/snapshot"
)

type messageType string

const (
	// messageTypeNew announces the hash of a peers current snapshot.
	messageTypeNew messageType = "NEW"
	// messageTypeAsk requests peers announce their current snapshot.
	messageTypeAsk messageType = "ASK"
)

// message is a gossip message, encoded as JSON such as:
//
//	{"type":"NEW","data":"<hash>"}
//	{"type":"ASK"}
type message struct {
	Type messageType `json:"type"`
	Data string      `json:"data,omitempty"`
}

func newMessage(hash string) *message {
	return &message{
		Type: messageTypeNew,
		Data: hash,
	}
}

func askMessage() *message {
	return &message{
		Type: messageTypeAsk,
	}
}

func encodeMessage(m *message) []byte {
	// Marshalling a struct of strings can't fail.
	b, _ := json.Marshal(m)
	return b
}

// decodeMessage decodes a gossip message. Unknown message types are returned
// without error so callers can ignore them.
func decodeMessage(b []byte) (*message, error) {
	var m message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, &snapshot.DecodeError{Source: "message", Err: err}
	}
	if m.Type == "" {
		return nil, &snapshot.DecodeError{
			Source: "message",
			Err:    errors.New("missing type"),
		}
	}
	if m.Type == messageTypeNew && m.Data == "" {
		return nil, &snapshot.DecodeError{
			Source: "message",
			Err:    fmt.Errorf("%s: missing data", m.Type),
		}
	}
	// The hash is used to fetch the snapshot so must be a content address.
	if m.Type == messageTypeNew && !blob.ValidHash(m.Data) {
		return nil, &snapshot.DecodeError{
			Source: "message",
			Err:    fmt.Errorf("%s: invalid hash: %q", m.Type, m.Data),
		}
	}
	return &m, nil
}
