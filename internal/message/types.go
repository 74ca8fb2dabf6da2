package message

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/meshlink/internal/relay"
)

// Direction tells where a stored message came from.
type Direction string

const (
	// DirectionInbound marks messages received from the mesh.
	DirectionInbound Direction = "inbound"

	// DirectionOutbound marks messages sent through the relay.
	DirectionOutbound Direction = "outbound"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// DefaultPerPage is the page size for message listings.
const DefaultPerPage = 25

// Message is a stored message.
type Message struct {
	ID        int64     `json:"id"`
	Direction Direction `json:"direction"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender_node"`
	Receiver  *string   `json:"receiver_node"`
	Path      []string  `json:"message_path"`
	IsPublic  bool      `json:"is_public"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
}

// FromEnvelope builds an unsaved Message from a relay envelope.
func FromEnvelope(env relay.Envelope, dir Direction) Message {
	path := make([]string, len(env.Path))
	copy(path, env.Path)

	var receiver *string
	if env.Receiver != nil {
		r := *env.Receiver
		receiver = &r
	}

	return Message{
		Direction: dir,
		Content:   env.Content,
		Sender:    env.Sender,
		Receiver:  receiver,
		Path:      path,
		IsPublic:  env.IsPublic(),
		Timestamp: env.Timestamp,
	}
}

// Validate checks a message before it is stored.
func (m *Message) Validate() error {
	var problems []string
	if !m.Direction.Valid() {
		problems = append(problems, fmt.Sprintf("direction %q", m.Direction))
	}
	if m.Sender == "" {
		problems = append(problems, "sender is required")
	}
	if m.Timestamp.IsZero() {
		problems = append(problems, "timestamp is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(problems, "; "))
	}
	return nil
}

// Contact is a node the relay has heard from.
type Contact struct {
	NodeID    string    `json:"node_id"`
	Name      *string   `json:"name"`
	IsActive  bool      `json:"is_active"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Page is one page of a newest-first message listing.
type Page struct {
	Messages []Message `json:"messages"`
	HasNext  bool      `json:"has_next"`
	HasPrev  bool      `json:"has_prev"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
}
