package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mirkobrombin/go-lockstep/v1/event"
)

// TopicPrefix prefixes every relay topic.
const TopicPrefix = "lockstep."

// Envelope is the wire form of a relayed event.
type Envelope struct {
	ID      string        `json:"id"`
	Node    string        `json:"node"`
	Group   string        `json:"group"`
	Origin  string        `json:"origin"`
	Kind    event.Kind    `json:"kind"`
	Payload event.Payload `json:"payload"`
	At      time.Time     `json:"at"`
}

// Event returns the relayed event.
func (e Envelope) Event() event.Event {
	return event.Event{Kind: e.Kind, Payload: e.Payload}
}

func encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	if !e.Kind.Valid() {
		return Envelope{}, fmt.Errorf("relay: unknown kind %q", e.Kind)
	}
	if e.ID == "" || e.Node == "" {
		return Envelope{}, fmt.Errorf("relay: envelope without id or node")
	}
	return e, nil
}

// Topic returns the bus topic for a group key. Bytes outside [A-Za-z0-9-]
// are written as '_' plus two hex digits, so the name is valid on every
// backend and distinct keys never share a topic.
func Topic(groupKey string) string {
	var sb strings.Builder
	sb.Grow(len(TopicPrefix) + len(groupKey))
	sb.WriteString(TopicPrefix)
	for i := 0; i < len(groupKey); i++ {
		c := groupKey[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "_%02X", c)
		}
	}
	return sb.String()
}
