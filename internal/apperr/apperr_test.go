package apperr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindNetworkTimeout},
		{"wrapped deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindNetworkTimeout},
		{"net timeout", timeoutErr{}, KindNetworkTimeout},
		{"refused", errors.New("connection refused"), KindNetwork},
		{"already classified", New(KindParse, "decode", errors.New("bad")), KindParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KindOf(Classify("fetch", tt.err))
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	if Classify("fetch", nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != "" {
		t.Error("expected empty kind for nil")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("expected unknown kind for plain error")
	}
	wrapped := fmt.Errorf("outer: %w", Validation("add", "bad contract %q", "0x1"))
	if !Is(wrapped, KindValidation) {
		t.Errorf("expected validation kind, got %s", KindOf(wrapped))
	}
	if Is(nil, KindValidation) {
		t.Error("expected nil to match no kind")
	}
}

func TestError_Message(t *testing.T) {
	err := New(KindNetwork, "health", errors.New("status=502"))
	if !strings.Contains(err.Error(), "health") || !strings.Contains(err.Error(), "status=502") {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if (&Error{Kind: KindThrottled}).Error() != "throttled" {
		t.Errorf("unexpected bare message: %s", (&Error{Kind: KindThrottled}).Error())
	}
	if !errors.Is(err, err.Err) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestSurfaced(t *testing.T) {
	if Surfaced(nil) {
		t.Error("nil must not surface")
	}
	if Surfaced(New(KindStorageUnavailable, "write", errors.New("quota"))) {
		t.Error("storage failures must not surface")
	}
	if !Surfaced(New(KindNetworkTimeout, "refresh", context.DeadlineExceeded)) {
		t.Error("timeouts on user actions must surface")
	}
}
