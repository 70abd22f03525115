package errcode

import (
	"errors"
	"testing"
)

func TestOf(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare code", NoCallback, NoCallback},
		{"wrapped", &E{C: Reserved, Op: "attach", Err: cause}, Reserved},
		{"helper", Wrap(NotConfigured, "frequency", "period is zero"), NotConfigured},
		{"foreign", cause, Error},
	}
	for _, tt := range tests {
		if got := Of(tt.err); got != tt.want {
			t.Errorf("%s: Of() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestEMessage(t *testing.T) {
	err := Wrap(UnknownChannel, "config_timer", "index 12")
	if got := err.Error(); got != "config_timer: unknown_channel: index 12" {
		t.Errorf("unexpected message %q", got)
	}

	cause := errors.New("short read")
	wrapped := &E{C: Truncated, Err: cause}
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is should see the cause through Unwrap")
	}
	if wrapped.Error() != "truncated" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}
}

func TestEIsCode(t *testing.T) {
	err := Wrap(NoCallback, "start", "channel 3")
	if !errors.Is(err, NoCallback) {
		t.Error("errors.Is should match the wrapped code")
	}
	if errors.Is(err, Reserved) {
		t.Error("errors.Is matched a different code")
	}
}
