package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "json", config: Config{Level: "info", Format: "json"}},
		{name: "text", config: Config{Level: "debug", Format: "text"}},
		{name: "console", config: Config{Level: "WARN", Format: "console", RedactPII: true}},
		{name: "defaults", config: Config{}},
		{name: "invalid level", config: Config{Level: "loud"}, wantErr: true},
		{name: "invalid format", config: Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Error("expected logger")
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "warn", Format: "json", Writer: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("expected info to be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("expected warn to be logged")
	}
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "info", Format: "json", Writer: &buf})

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithPrincipal(ctx, "user-1")
	ctx = WithReferenceID(ctx, "op-9")

	logger.InfoContext(ctx, "authorized", "category", "leadgen")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to decode log entry: %v", err)
	}

	for key, want := range map[string]string{
		"request_id":   "req-123",
		"principal":    "user-1",
		"reference_id": "op-9",
		"category":     "leadgen",
	} {
		if entry[key] != want {
			t.Errorf("expected %s=%q, got %v", key, want, entry[key])
		}
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "info", Format: "json", RedactPII: true, Writer: &buf})

	logger.With("dsn", "postgres://meter:hunter2@db/meter").Info("opened",
		"contact", "jane.doe@example.com",
		"api_key", "sk-abcdef123456",
		"error", errors.New("login failed: password=hunter2"),
	)

	out := buf.String()
	for _, secret := range []string{"hunter2", "jane.doe", "abcdef123456"} {
		if strings.Contains(out, secret) {
			t.Errorf("expected %q to be redacted, got %s", secret, out)
		}
	}
	if !strings.Contains(out, "example.com") {
		t.Error("expected email domain to be kept")
	}
}

func TestLogger_NoRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Config{Level: "info", Format: "text", Writer: &buf})

	logger.Info("grant", "contact", "jane.doe@example.com")
	if !strings.Contains(buf.String(), "jane.doe@example.com") {
		t.Error("expected value to pass through without redaction")
	}
}

func TestRedactor_Group(t *testing.T) {
	r := NewRedactor()

	attr := r.RedactAttr(slog.Group("auth", slog.String("token", "abcdefgh"), slog.Int("n", 1)))
	group := attr.Value.Group()
	if group[0].Value.String() != "abcd***" {
		t.Errorf("expected masked token, got %q", group[0].Value.String())
	}
	if group[1].Value.Int64() != 1 {
		t.Error("expected non-string attribute to pass through")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
