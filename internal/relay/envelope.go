package relay

import (
	"fmt"
	"time"
)

// UnknownSender is used when an event carries no sender identifier.
const UnknownSender = "unknown"

// Envelope is the canonical form of a relayed message.
type Envelope struct {
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Receiver  *string   `json:"receiver"`
	Path      []string  `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// IsPublic reports whether the envelope was broadcast rather than addressed.
func (e Envelope) IsPublic() bool {
	return e.Receiver == nil
}

// Normalize converts a message event into an Envelope stamped with now.
//
// Channel messages always get a nil receiver. Missing attributes fall back
// to defaults; attributes of the wrong type are an error. A panic while
// reading attributes is returned as an error.
func Normalize(ev Event, now time.Time) (env Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("normalize %s event: panic: %v", ev.Kind, r)
		}
	}()

	if ev.Kind != EventDirectMessage && ev.Kind != EventChannelMessage {
		return Envelope{}, fmt.Errorf("normalize: not a message event: %s", ev.Kind)
	}

	content, err := stringAttr(ev.Attributes, "content")
	if err != nil {
		return Envelope{}, err
	}

	sender, err := stringAttr(ev.Attributes, "from_id")
	if err != nil {
		return Envelope{}, err
	}
	if sender == "" {
		sender = UnknownSender
	}

	var receiver *string
	if ev.Kind == EventDirectMessage {
		to, err := stringAttr(ev.Attributes, "to_id")
		if err != nil {
			return Envelope{}, err
		}
		if to != "" {
			receiver = &to
		}
	}

	path, err := pathAttr(ev.Attributes)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Content:   content,
		Sender:    sender,
		Receiver:  receiver,
		Path:      path,
		Timestamp: now.UTC(),
	}, nil
}

func stringAttr(attrs map[string]any, key string) (string, error) {
	v, ok := attrs[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("normalize: attribute %q: expected string, got %T", key, v)
	}
	return s, nil
}

func pathAttr(attrs map[string]any) ([]string, error) {
	v, ok := attrs["path"]
	if !ok || v == nil {
		return []string{}, nil
	}
	switch p := v.(type) {
	case []string:
		out := make([]string, len(p))
		copy(out, p)
		return out, nil
	case []any:
		out := make([]string, 0, len(p))
		for i, hop := range p {
			s, ok := hop.(string)
			if !ok {
				return nil, fmt.Errorf("normalize: path[%d]: expected string, got %T", i, hop)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("normalize: attribute \"path\": expected list, got %T", v)
	}
}
