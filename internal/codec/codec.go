package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/znsio/pubsub-relay-go/internal/models"
)

type Encoding string

const (
	JSON Encoding = "json"
	Text Encoding = "text"

	sourceType = "gcp_pubsub"
)

func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case JSON, Text:
		return Encoding(s), nil
	case "":
		return JSON, nil
	}
	return "", fmt.Errorf("unknown encoding %q", s)
}

// Encode renders the event body according to the encoding.
func (e Encoding) Encode(ev models.Event) ([]byte, error) {
	switch e {
	case Text:
		return []byte(ev.Message()), nil
	default:
		body, err := json.Marshal(withoutAttributes(ev.Fields))
		if err != nil {
			return nil, fmt.Errorf("error encoding event: %w", err)
		}
		return body, nil
	}
}

// ToMessage builds the wire message. Event attributes become message attributes.
func (e Encoding) ToMessage(ev models.Event) (models.PubsubMessage, error) {
	body, err := e.Encode(ev)
	if err != nil {
		return models.PubsubMessage{}, err
	}
	return models.PubsubMessage{
		Data:       base64.StdEncoding.EncodeToString(body),
		Attributes: ev.Attributes(),
	}, nil
}

// FromMessage decodes a received message into an event. The raw payload is
// kept as the message field; metadata is attached alongside it.
func FromMessage(rm models.ReceivedMessage) (models.Event, error) {
	data, err := base64.StdEncoding.DecodeString(rm.Message.Data)
	if err != nil {
		return models.Event{}, fmt.Errorf("error decoding message %s: %w", rm.Message.MessageID, err)
	}

	ev := models.NewEvent(string(data))
	ev.AckID = rm.AckID
	ev.Set(models.FieldSourceType, sourceType)
	if rm.Message.MessageID != "" {
		ev.Set(models.FieldMessageID, rm.Message.MessageID)
	}
	if len(rm.Message.Attributes) > 0 {
		ev.Set(models.FieldAttributes, rm.Message.Attributes)
	}
	ev.Set(models.FieldTimestamp, publishTime(rm.Message.PublishTime))
	return ev, nil
}

func publishTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

func withoutAttributes(fields map[string]interface{}) map[string]interface{} {
	if _, ok := fields[models.FieldAttributes]; !ok {
		return fields
	}
	out := make(map[string]interface{}, len(fields)-1)
	for k, v := range fields {
		if k != models.FieldAttributes {
			out[k] = v
		}
	}
	return out
}
