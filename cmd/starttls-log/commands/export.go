package commands

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/mash-protocol/starttls-go/pkg/log"
)

// Export formats.
const (
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatYAML  = "yaml"
)

// RunExport exports the log file to the specified format.
func RunExport(path, format, output string) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case FormatJSONL:
		return exportJSONL(reader, w)
	case FormatCSV:
		return exportCSV(reader, w)
	case FormatYAML:
		return exportYAML(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv, yaml)", format)
	}
}

// each calls fn for every remaining event in reader.
func each(reader *log.Reader, fn func(log.Event) error) error {
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return each(reader, func(event log.Event) error {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

// yamlEvent is the document shape written by the yaml export.
type yamlEvent struct {
	Timestamp  string `yaml:"timestamp"`
	Connection string `yaml:"connection"`
	Role       string `yaml:"role"`
	Direction  string `yaml:"direction"`
	Layer      string `yaml:"layer"`
	Category   string `yaml:"category"`
	Peer       string `yaml:"peer,omitempty"`
	Detail     string `yaml:"detail,omitempty"`
}

func exportYAML(reader *log.Reader, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	return each(reader, func(event log.Event) error {
		doc := yamlEvent{
			Timestamp:  event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			Connection: event.ConnectionID,
			Role:       event.LocalRole.String(),
			Direction:  event.Direction.String(),
			Layer:      event.Layer.String(),
			Category:   event.Category.String(),
			Peer:       event.RemoteAddr,
			Detail:     detail(event),
		}
		if err := encoder.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "connection_id", "role", "direction", "layer", "category", "remote_addr", "type", "size", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return each(reader, func(event log.Event) error {
		size := ""
		if event.Data != nil {
			size = strconv.Itoa(event.Data.Size)
		}
		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.ConnectionID,
			event.LocalRole.String(),
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			event.RemoteAddr,
			eventType(event),
			size,
			detail(event),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
}

// detail summarises the event payload on one line.
func detail(event log.Event) string {
	switch {
	case event.Data != nil:
		return printable(event.Data.Data)
	case event.StateChange != nil:
		sc := event.StateChange
		s := fmt.Sprintf("%s %s->%s", sc.Entity, sc.OldState, sc.NewState)
		if sc.Reason != "" {
			s += " (" + sc.Reason + ")"
		}
		return s
	case event.Handshake != nil:
		h := event.Handshake
		s := fmt.Sprintf("%s %s authorized=%t", h.Version, h.Cipher, h.Authorized)
		if h.AuthorizationError != "" {
			s += " " + h.AuthorizationError
		}
		return s
	case event.Error != nil:
		if event.Error.Code != "" {
			return event.Error.Code + ": " + event.Error.Message
		}
		return event.Error.Message
	}
	return ""
}
