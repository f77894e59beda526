package cli

import (
	"errors"
	"fmt"
	"testing"
)

func TestConfigError(t *testing.T) {
	tests := []struct {
		name string
		err  *ConfigError
		want string
	}{
		{
			name: "with field",
			err:  NewConfigError("server.listen_address", "missing required field"),
			want: "config error in server.listen_address: missing required field",
		},
		{
			name: "without field",
			err:  NewConfigError("", "file not found"),
			want: "config error: file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandError(t *testing.T) {
	underlyingErr := errors.New("underlying error")
	err := NewCommandError("run", underlyingErr)

	expected := "command run failed: underlying error"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is should find the underlying error")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: ExitOK},
		{name: "plain error", err: errors.New("boom"), want: ExitFailure},
		{name: "config error", err: NewConfigError("x", "bad"), want: ExitConfigError},
		{name: "wrapped config error", err: fmt.Errorf("load: %w", NewConfigError("x", "bad")), want: ExitConfigError},
		{name: "command error", err: NewCommandError("sweep", errors.New("boom")), want: ExitFailure},
		{
			name: "command error with code",
			err:  NewCommandError("credits", errors.New("down")).WithCode(ExitUnavailable),
			want: ExitUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
