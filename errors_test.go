package bake

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, Success},
		{"bake error", NewError(UnknownTarget, fmt.Errorf("boom")), UnknownTarget},
		{"wrapped bake error", fmt.Errorf("outer: %w", NewError(Noent, fmt.Errorf("inner"))), Noent},
		{"plain error", errors.New("plain"), IO},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := CodeOf(c.err); got != c.want {
				t.Fatalf("CodeOf(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("disk full")
	err := NewError(Allocation, inner)
	if !errors.Is(err, inner) {
		t.Fatal("errors.Is did not see through bake.Error.Unwrap")
	}
}

func TestErrorCode_String(t *testing.T) {
	if Success.String() != "SUCCESS" {
		t.Fatalf("Success.String() = %q", Success.String())
	}
	if got := ErrorCode(999).String(); got != "ErrorCode(999)" {
		t.Fatalf("unknown code rendered as %q", got)
	}
}
