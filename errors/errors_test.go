package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "invalid arguments",
			err:      InvalidArguments("HttpClient", "request", []string{"number", "string"}),
			contains: []string{"[bind]", "invalid_arguments", "HttpClient.request", "(number, string)"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseStream,
				Kind:  KindClosed,
			},
			contains: []string{"[stream]", "closed"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseOperation,
				Kind:   KindOperationFailed,
				Detail: "connect",
				Cause:  errors.New("connection refused"),
			},
			contains: []string{"[operation]", "operation_failed", "connect", "caused by", "connection refused"},
		},
		{
			name:     "path",
			err:      OutOfBounds(PhaseMarshal, []string{"Buffer", "getInt"}, 12, 4),
			contains: []string{"Buffer.getInt", "index 12", "length 4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err := Timeout(PhaseOperation, "request timed out after %dms", 50)

	if !errors.Is(err, &Error{Phase: PhaseOperation, Kind: KindTimeout}) {
		t.Error("expected match on phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseStream, Kind: KindTimeout}) {
		t.Error("phase mismatch should not match")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !IsKind(wrapped, KindTimeout) {
		t.Error("IsKind should see through wrapping")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseDeploy, KindOperationFailed, cause, "instantiate")

	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
}

func TestIsBinding(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{InvalidArguments("Buffer", "getInt", nil), true},
		{InvalidEnum("GOT", "HttpMethod"), true},
		{UnknownMethod("Buffer", "nope"), true},
		{Timeout(PhaseOperation, "slow"), false},
		{Closed(PhaseStream, "socket"), false},
		{errors.New("plain"), false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := IsBinding(tt.err); got != tt.want {
			t.Errorf("IsBinding(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestFailed(t *testing.T) {
	if Failed(nil, "x") != nil {
		t.Error("nil cause should stay nil")
	}

	structured := NotFound(PhaseOperation, "file")
	if got := Failed(structured, "read"); got != structured {
		t.Errorf("structured errors should pass through, got %v", got)
	}

	plain := errors.New("boom")
	got := Failed(plain, "read")
	if !IsKind(got, KindOperationFailed) {
		t.Errorf("expected operation_failed, got %v", got)
	}
	if !errors.Is(got, plain) {
		t.Error("cause lost")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseProtocol, KindInvalidData).
		At("session", "decode").
		Detail("bad frame %d", 3).
		Value("{").
		Build()

	if err.Target != "session" || err.Method != "decode" {
		t.Errorf("unexpected location %s.%s", err.Target, err.Method)
	}
	if err.Detail != "bad frame 3" {
		t.Errorf("unexpected detail %q", err.Detail)
	}
	if err.Message() != "bad frame 3" {
		t.Errorf("unexpected message %q", err.Message())
	}
}
