package relay

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name         string
		ev           Event
		wantContent  string
		wantSender   string
		wantReceiver *string
		wantPath     []string
		wantErr      bool
	}{
		{
			name: "direct with all fields",
			ev: Event{Kind: EventDirectMessage, Attributes: map[string]any{
				"content": "hello", "from_id": "abc", "to_id": "def", "path": []string{"r1"},
			}},
			wantContent: "hello", wantSender: "abc", wantReceiver: strPtr("def"), wantPath: []string{"r1"},
		},
		{
			name:         "direct with defaults",
			ev:           Event{Kind: EventDirectMessage, Attributes: map[string]any{}},
			wantContent:  "",
			wantSender:   UnknownSender,
			wantReceiver: nil,
			wantPath:     []string{},
		},
		{
			name:       "nil attributes",
			ev:         Event{Kind: EventChannelMessage},
			wantSender: UnknownSender,
			wantPath:   []string{},
		},
		{
			name: "channel ignores to_id",
			ev: Event{Kind: EventChannelMessage, Attributes: map[string]any{
				"content": "all", "from_id": "abc", "to_id": "def",
			}},
			wantContent: "all", wantSender: "abc", wantReceiver: nil, wantPath: []string{},
		},
		{
			name:       "empty from_id",
			ev:         Event{Kind: EventDirectMessage, Attributes: map[string]any{"from_id": ""}},
			wantSender: UnknownSender,
			wantPath:   []string{},
		},
		{
			name:       "empty to_id is public",
			ev:         Event{Kind: EventDirectMessage, Attributes: map[string]any{"to_id": ""}},
			wantSender: UnknownSender,
			wantPath:   []string{},
		},
		{
			name: "path of any",
			ev: Event{Kind: EventDirectMessage, Attributes: map[string]any{
				"path": []any{"a", "b"},
			}},
			wantSender: UnknownSender, wantPath: []string{"a", "b"},
		},
		{
			name:    "content wrong type",
			ev:      Event{Kind: EventDirectMessage, Attributes: map[string]any{"content": 7}},
			wantErr: true,
		},
		{
			name:    "path element wrong type",
			ev:      Event{Kind: EventDirectMessage, Attributes: map[string]any{"path": []any{"a", 1}}},
			wantErr: true,
		},
		{
			name:    "path wrong type",
			ev:      Event{Kind: EventDirectMessage, Attributes: map[string]any{"path": "a,b"}},
			wantErr: true,
		},
		{
			name:    "not a message",
			ev:      Event{Kind: EventSelfInfo},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Normalize(tt.ev, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}

			if env.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", env.Content, tt.wantContent)
			}
			if env.Sender != tt.wantSender {
				t.Errorf("Sender = %q, want %q", env.Sender, tt.wantSender)
			}
			switch {
			case tt.wantReceiver == nil && env.Receiver != nil:
				t.Errorf("Receiver = %q, want nil", *env.Receiver)
			case tt.wantReceiver != nil && (env.Receiver == nil || *env.Receiver != *tt.wantReceiver):
				t.Errorf("Receiver = %v, want %q", env.Receiver, *tt.wantReceiver)
			}
			if env.Path == nil {
				t.Fatal("Path = nil, want non-nil")
			}
			if len(env.Path) != len(tt.wantPath) {
				t.Fatalf("Path = %v, want %v", env.Path, tt.wantPath)
			}
			for i := range tt.wantPath {
				if env.Path[i] != tt.wantPath[i] {
					t.Errorf("Path[%d] = %q, want %q", i, env.Path[i], tt.wantPath[i])
				}
			}
			if !env.Timestamp.Equal(now) {
				t.Errorf("Timestamp = %v, want %v", env.Timestamp, now)
			}
		})
	}
}

func TestNormalizeCopiesPath(t *testing.T) {
	path := []string{"r1"}
	env, err := Normalize(Event{Kind: EventDirectMessage, Attributes: map[string]any{"path": path}}, time.Now())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	path[0] = "changed"
	if env.Path[0] != "r1" {
		t.Errorf("Path[0] = %q, want r1", env.Path[0])
	}
}
