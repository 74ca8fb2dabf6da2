package relay

import (
	"fmt"
	"testing"
)

func TestDescribeCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{CodeInvalidCommand, "invalid command"},
		{CodeNotReady, "not ready"},
		{CodeNoRoute, "no route to destination"},
		{CodeInternalError, "internal error"},
		{99, "unknown error 99"},
		{0, "unknown error 0"},
	}
	for _, tt := range tests {
		if got := DescribeCode(tt.code); got != tt.want {
			t.Errorf("DescribeCode(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestIsNotReady(t *testing.T) {
	if !IsNotReady(fmt.Errorf("wrapped: %w", &DeviceError{Code: CodeNotReady})) {
		t.Error("IsNotReady(wrapped not ready) = false")
	}
	if IsNotReady(&DeviceError{Code: CodeTimeout}) {
		t.Error("IsNotReady(timeout) = true")
	}
	if IsNotReady(nil) {
		t.Error("IsNotReady(nil) = true")
	}
}

func TestPhaseString(t *testing.T) {
	for p := PhaseStopped; p <= PhaseReconnecting; p++ {
		if p.String() == "unknown" {
			t.Errorf("Phase(%d).String() = unknown", p)
		}
	}
	if Phase(42).String() != "unknown" {
		t.Errorf("Phase(42).String() = %q, want unknown", Phase(42).String())
	}
	text, _ := PhaseRunning.MarshalText()
	if string(text) != "running" {
		t.Errorf("MarshalText() = %q, want running", text)
	}
}
