package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestExportError_Error(t *testing.T) {
	err := &ExportError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "not found: memories.json",
	}

	expected := "NOT_FOUND: not found: memories.json"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("max_workers must be positive")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "max_workers must be positive" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("Photos/post/a.webp")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["identifier"] != "Photos/post/a.webp" {
		t.Errorf("Details[identifier] = %v", err.Details["identifier"])
	}
}

func TestNewParse(t *testing.T) {
	cause := fmt.Errorf("bad month")
	err := NewParse("2024-13-01T00:00:00Z", cause)

	if err.Code != ErrParse {
		t.Errorf("Code = %q, want %q", err.Code, ErrParse)
	}
	if err.Status != 422 {
		t.Errorf("Status = %d, want 422", err.Status)
	}
	if err.Details["input"] != "2024-13-01T00:00:00Z" {
		t.Errorf("Details[input] = %v", err.Details["input"])
	}
	if !stderrors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
}

func TestArtifactErrorsCarryPath(t *testing.T) {
	cause := fmt.Errorf("boom")
	tests := []struct {
		name string
		err  *ExportError
		code ErrorCode
	}{
		{"decode", NewDecode("/out/a.webp", cause), ErrDecode},
		{"encode", NewEncode("/out/a.jpg", cause), ErrEncode},
		{"tag write", NewTagWrite("/out/a.jpg", cause), ErrTagWrite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Details["path"] == nil {
				t.Error("Details[path] should be set")
			}
			if !stderrors.Is(tt.err, cause) {
				t.Error("cause should be wrapped")
			}
		})
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("disk on fire"))
		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Message != "disk on fire" {
			t.Errorf("Message = %q", err.Message)
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)
		if err.Message != "internal error" {
			t.Errorf("Message = %q, want %q", err.Message, "internal error")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		if !Is(NewNotFound("x"), ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		if Is(NewNotFound("x"), ErrConflict) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		if Is(fmt.Errorf("plain"), ErrNotFound) {
			t.Error("Is() = true, want false for plain error")
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		wrapped := fmt.Errorf("composite: %w", NewDecode("a", fmt.Errorf("eof")))
		if !Is(wrapped, ErrDecode) {
			t.Error("Is() = false, want true for wrapped ExportError")
		}
	})
}

func TestCodeOfAndIsFatal(t *testing.T) {
	if got := CodeOf(fmt.Errorf("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
	if got := CodeOf(NewInteractiveAbort("eof")); got != ErrInteractiveAbort {
		t.Errorf("CodeOf(abort) = %q", got)
	}

	fatal := NewFatal("cannot create output directory", fmt.Errorf("read-only file system"))
	if !IsFatal(fmt.Errorf("run: %w", fatal)) {
		t.Error("IsFatal should see through wrapping")
	}
	if IsFatal(NewTagWrite("a", nil)) {
		t.Error("tag write errors are not fatal")
	}
}
