package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func logJSON(t *testing.T, ev Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	NewSlogAdapter(slog.New(handler)).Log(ev)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterLogsDataEvent(t *testing.T) {
	entry := logJSON(t, Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-123",
		Direction:    DirectionIn,
		Layer:        LayerPlain,
		Category:     CategoryData,
		RemoteAddr:   "127.0.0.1:4000",
		Data:         CaptureData([]byte("PING\r\n")),
	})

	if entry["conn_id"] != "conn-123" {
		t.Errorf("conn_id: got %v", entry["conn_id"])
	}
	if entry["layer"] != "PLAIN" {
		t.Errorf("layer: got %v", entry["layer"])
	}
	if entry["size"] != float64(6) {
		t.Errorf("size: got %v", entry["size"])
	}
	if entry["remote"] != "127.0.0.1:4000" {
		t.Errorf("remote: got %v", entry["remote"])
	}
}

func TestSlogAdapterLogsHandshake(t *testing.T) {
	entry := logJSON(t, Event{
		Layer:    LayerSecure,
		Category: CategoryHandshake,
		Handshake: &HandshakeEvent{
			AuthorizationError: "DEPTH_ZERO_SELF_SIGNED_CERT",
			Cipher:             "TLS_AES_128_GCM_SHA256",
			Version:            "TLSv1.3",
		},
	})

	if entry["authorized"] != false {
		t.Errorf("authorized: got %v", entry["authorized"])
	}
	if entry["auth_error"] != "DEPTH_ZERO_SELF_SIGNED_CERT" {
		t.Errorf("auth_error: got %v", entry["auth_error"])
	}
	if entry["version"] != "TLSv1.3" {
		t.Errorf("version: got %v", entry["version"])
	}
}

func TestSlogAdapterLogsStateAndError(t *testing.T) {
	entry := logJSON(t, Event{
		Category:    CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityUpgrade, OldState: "PLAIN", NewState: "SETUP", Reason: "upgrade"},
	})
	if entry["entity"] != "UPGRADE" || entry["new_state"] != "SETUP" || entry["reason"] != "upgrade" {
		t.Errorf("state entry: %v", entry)
	}

	entry = logJSON(t, Event{
		Category: CategoryError,
		Error:    &ErrorEventData{Layer: LayerSecure, Message: "boom", Code: "CERT_HAS_EXPIRED"},
	})
	if entry["error_msg"] != "boom" || entry["error_code"] != "CERT_HAS_EXPIRED" {
		t.Errorf("error entry: %v", entry)
	}
	if entry["msg"] != "protocol" {
		t.Errorf("msg: got %v", entry["msg"])
	}
}
