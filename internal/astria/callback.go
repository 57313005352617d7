package astria

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CallbackEvent is a parsed completion or failure notice for one tune job.
type CallbackEvent struct {
	Title     string
	JobID     string
	TrainedAt *time.Time
	ExpiresAt *time.Time
	Token     *string

	// Failed is set when the payload explicitly reports a terminal failure.
	Failed        bool
	FailureReason string
}

type callbackPayload struct {
	ID        flexID          `json:"id"`
	Title     string          `json:"title"`
	TrainedAt *string         `json:"trained_at"`
	ExpiresAt *string         `json:"expires_at"`
	FailedAt  *string         `json:"failed_at"`
	Status    string          `json:"status"`
	Error     json.RawMessage `json:"error"`
	Token     *string         `json:"token"`
}

// ParseCallback decodes a raw callback body. The tune object may arrive bare
// or wrapped as {"tune": {...}}. Payloads without id or title are rejected
// with ErrMalformedCallback.
func ParseCallback(raw []byte) (*CallbackEvent, error) {
	var envelope struct {
		Tune json.RawMessage `json:"tune"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if len(envelope.Tune) > 0 && envelope.Tune[0] == '{' {
		raw = envelope.Tune
	}

	var p callbackPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedCallback)
	}
	if strings.TrimSpace(p.Title) == "" {
		return nil, fmt.Errorf("%w: missing title", ErrMalformedCallback)
	}

	ev := &CallbackEvent{Title: p.Title, JobID: string(p.ID)}
	var err error
	if ev.TrainedAt, err = parseTime("trained_at", p.TrainedAt); err != nil {
		return nil, err
	}
	if ev.ExpiresAt, err = parseTime("expires_at", p.ExpiresAt); err != nil {
		return nil, err
	}
	if p.Token != nil && *p.Token != "" {
		ev.Token = p.Token
	}

	reason := errorText(p.Error)
	switch {
	case p.FailedAt != nil && *p.FailedAt != "":
		ev.Failed = true
	case strings.EqualFold(p.Status, "failed"):
		ev.Failed = true
	case reason != "":
		ev.Failed = true
	}
	if ev.Failed {
		ev.FailureReason = reason
	}
	return ev, nil
}

func parseTime(field string, v *string) (*time.Time, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCallback, field, err)
	}
	// Stored timestamps keep microseconds; drop the rest so replays compare equal.
	t = t.UTC().Truncate(time.Microsecond)
	return &t, nil
}

// errorText flattens the error field, which may be null, a string or an object.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}
