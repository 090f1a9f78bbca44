package models

// PubsubMessage is the REST v1 representation of a message.
type PubsubMessage struct {
	Data        string            `json:"data,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	MessageID   string            `json:"messageId,omitempty"`
	PublishTime string            `json:"publishTime,omitempty"`
	OrderingKey string            `json:"orderingKey,omitempty"`
}

type PublishRequest struct {
	Messages []PubsubMessage `json:"messages"`
}

type PublishResponse struct {
	MessageIDs []string `json:"messageIds"`
}

type PullRequest struct {
	MaxMessages int `json:"maxMessages"`
}

type ReceivedMessage struct {
	AckID   string        `json:"ackId"`
	Message PubsubMessage `json:"message"`
}

type AcknowledgeRequest struct {
	AckIDs []string `json:"ackIds"`
}

type ModifyAckDeadlineRequest struct {
	AckIDs             []string `json:"ackIds"`
	AckDeadlineSeconds int      `json:"ackDeadlineSeconds"`
}
