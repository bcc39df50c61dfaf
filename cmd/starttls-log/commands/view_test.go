package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mash-protocol/starttls-go/pkg/log"
)

func TestViewFormatsEvents(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	path := createTestLogFile(t, upgradeSession(ts))

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"2026-01-28T10:15:32.123456Z [conn:abc12345] SERVER IN  PLAIN  Data",
		`Data: STARTTLS\r\n`,
		"PLAIN -> SETUP",
		"Reason: STARTTLS",
		"AuthError: DEPTH_ZERO_SELF_SIGNED_CERT",
		"Version: TLSv1.3",
		"Peer: 127.0.0.1:50000",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestViewFilterByDirection(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	path := createTestLogFile(t, upgradeSession(ts))

	out := log.DirectionOut
	secure := log.LayerSecure
	data := log.CategoryData
	var buf bytes.Buffer
	err := RunView(path, ViewFilter{Direction: &out, Layer: &secure, Category: &data}, &buf)
	if err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	if strings.Count(output, "[conn:") != 1 {
		t.Errorf("expected one event:\n%s", output)
	}
	if !strings.Contains(output, `250 PONG\r\n`) {
		t.Errorf("expected PONG data:\n%s", output)
	}
}

func TestViewErrorDetails(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	events := []log.Event{{
		Timestamp: ts, ConnectionID: "x", Category: log.CategoryError, Layer: log.LayerSecure,
		Error: &log.ErrorEventData{Layer: log.LayerSecure, Message: "bad certificate", Code: "HANDSHAKE", Context: "upgrade"},
	}}
	path := createTestLogFile(t, events)

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	for _, want := range []string{"Error", "Message: bad certificate", "Code: HANDSHAKE", "Context: upgrade"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in output:\n%s", want, buf.String())
		}
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("SECURE"); err != nil || l != log.LayerSecure {
		t.Errorf("ParseLayerFlag = %v, %v", l, err)
	}
	if d, err := ParseDirectionFlag("in"); err != nil || d != log.DirectionIn {
		t.Errorf("ParseDirectionFlag = %v, %v", d, err)
	}
	if c, err := ParseCategoryFlag("Handshake"); err != nil || c != log.CategoryHandshake {
		t.Errorf("ParseCategoryFlag = %v, %v", c, err)
	}
	if r, err := ParseRoleFlag("client"); err != nil || r != log.RoleClient {
		t.Errorf("ParseRoleFlag = %v, %v", r, err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("expected error for unknown layer")
	}
}
