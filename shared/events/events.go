// Package events defines the message contract published on RabbitMQ.
// The CMS publishes uploads; autoalter answers with generated text or a failure.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ── Routing keys (RabbitMQ topic exchange: autoalter.events) ─────────────────
const (
	ImageUploaded    = "image.uploaded"
	AltTextGenerated = "alttext.generated"
	AltTextFailed    = "alttext.failed"
	// Notice is only relayed to WebSocket clients.
	Notice = "notice"
)

const (
	LevelWarning = "warning"
	LevelStatus  = "status"
)

// ── Envelope wraps every message ─────────────────────────────────────────────

type Envelope struct {
	ID         string          `json:"id"`
	RoutingKey string          `json:"routing_key"`
	Timestamp  time.Time       `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func Wrap(routingKey string, payload any) ([]byte, error) {
	env, err := NewEnvelope(routingKey, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func NewEnvelope(routingKey string, payload any) (*Envelope, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:         uuid.New().String(),
		RoutingKey: routingKey,
		Timestamp:  time.Now(),
		Payload:    p,
	}, nil
}

func Unwrap[T any](raw []byte) (*T, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	var t T
	return &t, json.Unmarshal(env.Payload, &t)
}

// ── Payload types ─────────────────────────────────────────────────────────────

// ImageUploadedPayload names the image either by storage URI (public://...)
// or by absolute URL.
type ImageUploadedPayload struct {
	ImageID  string `json:"image_id"`
	URI      string `json:"uri,omitempty"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Language string `json:"language,omitempty"`
}

type AltTextGeneratedPayload struct {
	ImageID    string `json:"image_id"`
	URI        string `json:"uri,omitempty"`
	Text       string `json:"text"`
	Provider   string `json:"provider"`
	Language   string `json:"language"`
	Suggestion bool   `json:"suggestion"`
}

type AltTextFailedPayload struct {
	ImageID  string `json:"image_id"`
	URI      string `json:"uri,omitempty"`
	Provider string `json:"provider,omitempty"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

type NoticePayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}
