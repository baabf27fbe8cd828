package bus

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	messageEvent  = "event"
	messageEvents = "events"
	messageStatus = "status"
	messageClear  = "clear"
)

// message is the envelope exchanged between peer buses.
type message struct {
	Type     string          `json:"type"`
	SourceID string          `json:"source_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func encodeMessage(sourceID, kind string, payload any) ([]byte, error) {
	msg := message{Type: kind, SourceID: sourceID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return json.Marshal(msg)
}

func decodeMessage(data []byte) (message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.SourceID == "" {
		return message{}, errors.New("message source_id is required")
	}
	switch msg.Type {
	case messageEvent, messageEvents, messageStatus, messageClear:
		return msg, nil
	default:
		return message{}, fmt.Errorf("unknown message type %q", msg.Type)
	}
}
