package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorToCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, CodeOK},
		{"plain", errors.New("boom"), CodeUnknown},
		{"configuration", NewConfiguration("bitplanes", "must be positive"), CodeConfiguration},
		{"dimensions", fmt.Errorf("dims: %w", ErrInvalidDimensions), CodeConfiguration},
		{"corruption", NewCorruption("level %d truncated", 2), CodeCorruption},
		{"checksum", ErrChecksumMismatch, CodeCorruption},
		{"retrieval", NewRetrieval(3, ErrStreamTruncated), CodeRetrieval},
		{"retrieval default cause", NewRetrieval(0, nil), CodeRetrieval},
		{"state", Wrap(ErrSessionBusy, "session"), CodeInvalidState},
		{"input", Wrapf(ErrInvalidRange, "stream %d", 1), CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorToCode(tt.err); got != tt.want {
				t.Errorf("ErrorToCode(%v) = %s, want %s", tt.err, CodeName(got), CodeName(tt.want))
			}
		})
	}
}

func TestCodeName(t *testing.T) {
	if got := CodeName(CodeCorruption); got != "MetadataCorruption" {
		t.Errorf("CodeName(CodeCorruption) = %q", got)
	}
	if got := CodeName(42); got != "Code(42)" {
		t.Errorf("CodeName(42) = %q", got)
	}
}

func TestNewRetrievalKeepsCause(t *testing.T) {
	err := NewRetrieval(1, ErrStreamMissing)
	if !errors.Is(err, ErrRetrievalIO) || !errors.Is(err, ErrStreamMissing) {
		t.Fatalf("NewRetrieval lost a sentinel: %v", err)
	}
	if !strings.HasPrefix(err.Error(), "level 1: ") {
		t.Errorf("unexpected message %q", err)
	}
	if errors.Is(NewRetrieval(1, ErrStreamTruncated), ErrStreamMissing) {
		t.Error("explicit cause replaced by default")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "x") != nil || Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("wrapping nil must return nil")
	}
	err := Wrapf(ErrInvalidBudget, "call %d", 7)
	if err.Error() != "call 7: invalid byte budget" {
		t.Errorf("Wrapf = %q", err)
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	v.Add(nil)
	if v.HasErrors() || v.Err() != nil {
		t.Fatal("nil errors must not be collected")
	}

	v.AddField("dims", "empty")
	if got := v.Err().Error(); got != "invalid dims: empty: invalid configuration" {
		t.Errorf("single error message = %q", got)
	}

	v.Add(ErrInvalidTolerance)
	err := v.Err()
	if !strings.HasPrefix(err.Error(), "validation failed with 2 errors:") {
		t.Errorf("multi error message = %q", err)
	}
	if !errors.Is(err, ErrConfiguration) || !errors.Is(err, ErrInvalidTolerance) {
		t.Error("collected errors not reachable through errors.Is")
	}
	if ErrorToCode(err) != CodeConfiguration {
		t.Errorf("code = %s", CodeName(ErrorToCode(err)))
	}
}
