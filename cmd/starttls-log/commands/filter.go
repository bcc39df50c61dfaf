package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/mash-protocol/starttls-go/pkg/log"
)

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output     string
	ConnID     string
	RemoteAddr string
	TimeStart  string
	TimeEnd    string
	Layer      string
	Direction  string
	Category   string
	Role       string
}

// buildFilter converts the string options into a log.Filter.
func buildFilter(opts FilterOptions) (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: opts.ConnID,
		RemoteAddr:   opts.RemoteAddr,
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if opts.Layer != "" {
		l, err := ParseLayerFlag(opts.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if opts.Direction != "" {
		d, err := ParseDirectionFlag(opts.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if opts.Category != "" {
		c, err := ParseCategoryFlag(opts.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	if opts.Role != "" {
		r, err := ParseRoleFlag(opts.Role)
		if err != nil {
			return filter, err
		}
		filter.Role = &r
	}
	return filter, nil
}

// RunFilter filters the log file and writes matching events to a new file.
// It reports the number of events written to w.
func RunFilter(path string, opts FilterOptions, w io.Writer) error {
	filter, err := buildFilter(opts)
	if err != nil {
		return err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	err = each(reader, func(event log.Event) error {
		logger.Log(event)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Filtered %d events to %s\n", logger.Count(), opts.Output)
	return nil
}
