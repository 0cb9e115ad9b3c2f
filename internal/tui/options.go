package tui

import (
	"time"

	"github.com/atotto/clipboard"

	"github.com/hylla/podtrack/internal/report"
)

// Option configures a Model.
type Option func(*Model)

// ClipboardFunc writes text to the system clipboard.
type ClipboardFunc func(string) error

// defaultClipboard writes through the OS clipboard.
func defaultClipboard(text string) error {
	return clipboard.WriteAll(text)
}

// WithReportRenderer sets the renderer used for the report view and clipboard copies.
func WithReportRenderer(r report.Renderer) Option {
	return func(m *Model) {
		if r != nil {
			m.renderer = r
		}
	}
}

// WithClipboard replaces the clipboard writer.
func WithClipboard(fn ClipboardFunc) Option {
	return func(m *Model) {
		if fn != nil {
			m.copyText = fn
		}
	}
}

// WithLocation sets the timezone used for dashboard timestamps.
func WithLocation(loc *time.Location) Option {
	return func(m *Model) {
		if loc != nil {
			m.loc = loc
		}
	}
}
