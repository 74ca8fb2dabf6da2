package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/nerrad567/meshlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/meshlink/internal/relay"
)

// Sender sends through the relay. Implemented by *relay.Service.
type Sender interface {
	SendMessage(content string, receiver *string) (relay.Envelope, error)
}

// Command is a send request received over MQTT.
type Command struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	Receiver *string `json:"receiver"`
}

// Ack answers a Command on meshlink/ack/send/{id}.
type Ack struct {
	ID        string    `json:"id"`
	Success   bool      `json:"success"`
	Message   *Message  `json:"message,omitempty"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Ack codes.
const (
	CodeInvalidCommand  = "invalid_command"
	CodeNotConnected    = "not_connected"
	CodeContactNotFound = "contact_not_found"
	CodeTimeout         = "timeout"
	CodeSendFailed      = "send_failed"
	CodeStoreFailed     = "store_failed"
)

// CommandBridgeConfig configures a CommandBridge.
type CommandBridgeConfig struct {
	Sender    Sender
	Recorder  *Recorder
	Publisher Publisher
	Clock     clock.Clock
}

// CommandBridge executes MQTT send commands.
type CommandBridge struct {
	sender    Sender
	recorder  *Recorder
	publisher Publisher
	clock     clock.Clock

	logger   Logger
	loggerMu sync.RWMutex
}

// NewCommandBridge creates a CommandBridge.
func NewCommandBridge(cfg CommandBridgeConfig) *CommandBridge {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &CommandBridge{
		sender:    cfg.Sender,
		recorder:  cfg.Recorder,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
	}
}

// SetLogger sets the logger.
func (b *CommandBridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// HandleSend is an mqtt.MessageHandler for meshlink/command/send.
//
// A command without an id is assigned one. Payloads that are not JSON
// cannot be acknowledged and are returned as an error for logging.
func (b *CommandBridge) HandleSend(_ string, payload []byte) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	ack := b.execute(cmd)
	if err := b.publisher.PublishJSON(mqtt.Topics{}.AckSend(cmd.ID), ack, false); err != nil {
		return fmt.Errorf("publishing ack %s: %w", cmd.ID, err)
	}
	return nil
}

func (b *CommandBridge) execute(cmd Command) Ack {
	ack := Ack{ID: cmd.ID, Timestamp: b.clock.Now().UTC()}

	if strings.TrimSpace(cmd.Content) == "" {
		ack.Code, ack.Error = CodeInvalidCommand, "content is required"
		return ack
	}
	env, err := b.sender.SendMessage(cmd.Content, cmd.Receiver)
	if err != nil {
		ack.Code, ack.Error = codeFor(err), err.Error()
		b.logWarn("send command failed", "id", cmd.ID, "code", ack.Code, "error", err)
		return ack
	}

	m, err := b.recorder.Record(context.Background(), env, DirectionOutbound)
	if err != nil {
		// Sent over the air but not stored.
		ack.Success, ack.Code, ack.Error = true, CodeStoreFailed, err.Error()
		b.logWarn("sent message not stored", "id", cmd.ID, "error", err)
		return ack
	}

	ack.Success = true
	ack.Message = &m
	return ack
}

// codeFor maps relay errors to ack codes.
func codeFor(err error) string {
	switch {
	case errors.Is(err, relay.ErrNotConnected), errors.Is(err, relay.ErrNotRunning):
		return CodeNotConnected
	case errors.Is(err, relay.ErrContactNotFound):
		return CodeContactNotFound
	case errors.Is(err, relay.ErrTimeout):
		return CodeTimeout
	default:
		return CodeSendFailed
	}
}

func (b *CommandBridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
