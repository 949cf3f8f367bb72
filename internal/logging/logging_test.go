package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

// ============================================================
// Helper: parse JSON log output
// ============================================================

func parseLogOutput(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse log output: %v\nraw: %s", err, buf.String())
	}
	return result
}

func newTestLogger(buf *bytes.Buffer, sanitize bool) *slog.Logger {
	inner := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(NewSanitizingHandler(inner, sanitize))
}

// ============================================================
// SanitizingHandler.Handle tests
// ============================================================

func TestHandle_RedactsSensitiveKeys(t *testing.T) {
	for _, key := range []string{"password", "secret", "token", "api_key", "credential", "passphrase", "auth", "Password", "ssh_credential_len"} {
		t.Run(key, func(t *testing.T) {
			var buf bytes.Buffer
			newTestLogger(&buf, true).Info("test", slog.String(key, "hunter2"))

			result := parseLogOutput(t, &buf)
			if result[key] != "[REDACTED]" {
				t.Errorf("%s = %v, want [REDACTED]", key, result[key])
			}
		})
	}
}

func TestHandle_NonSensitivePassesThrough(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, true).Info("record upserted",
		slog.String("host", "example.com"),
		slog.Int("port", 2222),
		slog.String("result", "updated"),
	)

	result := parseLogOutput(t, &buf)
	if result["host"] != "example.com" {
		t.Errorf("host = %v", result["host"])
	}
	if result["port"] != float64(2222) {
		t.Errorf("port = %v", result["port"])
	}
	if result["msg"] != "record upserted" || result["level"] != "INFO" {
		t.Errorf("msg/level = %v/%v", result["msg"], result["level"])
	}
}

func TestHandle_SanitizeFalse_NothingRedacted(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, false).Info("test", slog.String("password", "visible"))

	result := parseLogOutput(t, &buf)
	if result["password"] != "visible" {
		t.Errorf("password = %v, want visible", result["password"])
	}
}

func TestHandle_NestedGroupAttrs(t *testing.T) {
	var buf bytes.Buffer
	newTestLogger(&buf, true).Info("test",
		slog.Group("connection",
			slog.String("host", "example.com"),
			slog.String("password", "secret"),
			slog.Group("inner", slog.String("token", "tk")),
		),
	)

	result := parseLogOutput(t, &buf)
	conn, ok := result["connection"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'connection' group in output, got %v", result)
	}
	if conn["host"] != "example.com" {
		t.Errorf("host = %v", conn["host"])
	}
	if conn["password"] != "[REDACTED]" {
		t.Errorf("password = %v, want [REDACTED]", conn["password"])
	}
	inner, ok := conn["inner"].(map[string]interface{})
	if !ok || inner["token"] != "[REDACTED]" {
		t.Errorf("inner = %v, want token redacted", conn["inner"])
	}
}

// ============================================================
// WithAttrs / WithGroup
// ============================================================

func TestWithAttrs_Redacts(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, true).With(slog.String("credential", "pw"), slog.String("host", "h"))
	logger.Info("test")

	result := parseLogOutput(t, &buf)
	if result["credential"] != "[REDACTED]" {
		t.Errorf("credential = %v", result["credential"])
	}
	if result["host"] != "h" {
		t.Errorf("host = %v", result["host"])
	}
}

func TestWithGroup_SanitizesAttrsInGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, true).WithGroup("session")
	logger.Info("test", slog.String("password", "x"), slog.Int("pid", 42))

	result := parseLogOutput(t, &buf)
	group, ok := result["session"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected 'session' group, got %v", result)
	}
	if group["password"] != "[REDACTED]" || group["pid"] != float64(42) {
		t.Errorf("group = %v", group)
	}
}

func TestEnabled_DelegatesToInner(t *testing.T) {
	inner := slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewSanitizingHandler(inner, true)
	ctx := context.Background()

	if h.Enabled(ctx, slog.LevelInfo) {
		t.Error("info should be disabled")
	}
	if !h.Enabled(ctx, slog.LevelError) {
		t.Error("error should be enabled")
	}
}

// ============================================================
// Setup / ParseLevel
// ============================================================

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetup_LevelVarIsLive(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	lv := Setup(&buf, "info", true)
	ctx := context.Background()

	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		t.Fatal("debug enabled at info level")
	}

	lv.Set(slog.LevelDebug)
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		t.Fatal("debug still disabled after raising the level")
	}

	slog.Debug("reloaded", slog.String("password", "pw"))
	result := parseLogOutput(t, &buf)
	if result["password"] != "[REDACTED]" {
		t.Errorf("default logger did not sanitize: %v", result)
	}
}

// ============================================================
// Preview
// ============================================================

func TestPreview(t *testing.T) {
	tests := []struct {
		data []byte
		max  int
		want string
	}{
		{[]byte("hello"), 10, `"hello"`},
		{[]byte("hello"), 5, `"hello"`},
		{[]byte("hello world"), 5, `"hello"...`},
		{[]byte("a\r\nb"), 10, `"a\r\nb"`},
		{nil, 10, `""`},
		{[]byte("abc"), -1, `""...`},
	}
	for _, tt := range tests {
		if got := Preview(tt.data, tt.max); got != tt.want {
			t.Errorf("Preview(%q, %d) = %s, want %s", tt.data, tt.max, got, tt.want)
		}
	}
}
