package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hylla/podtrack/internal/domain"
)

// BlockKind classifies one layout-free unit of a report.
type BlockKind string

// BlockHeading and related constants enumerate block kinds.
const (
	BlockHeading     BlockKind = "heading"
	BlockText        BlockKind = "text"
	BlockImage       BlockKind = "image"
	BlockPlaceholder BlockKind = "placeholder"
	BlockRule        BlockKind = "rule"
)

// Block is one unit in the flattened document. Image blocks carry the media they show.
type Block struct {
	Kind  BlockKind  `json:"kind"`
	Level int        `json:"level,omitempty"`
	Text  string     `json:"text"`
	Media *MediaView `json:"media,omitempty"`
}

// PageBreakFunc is invoked by a renderer each time it starts a new page (page numbers start at 2).
type PageBreakFunc func(page int)

// Renderer turns a model into a final byte stream. Pagination is the renderer's decision.
type Renderer interface {
	Render(ctx context.Context, w io.Writer, m Model, onPageBreak PageBreakFunc) error
}

// Blocks flattens the model into ordered blocks with no page geometry.
func (m Model) Blocks() []Block {
	out := make([]Block, 0, 16)
	heading := func(level int, text string) {
		out = append(out, Block{Kind: BlockHeading, Level: level, Text: text})
	}
	text := func(format string, args ...any) {
		out = append(out, Block{Kind: BlockText, Text: fmt.Sprintf(format, args...)})
	}

	heading(1, m.Title)
	h := m.Header
	text("Loadsheet: %s", h.LoadsheetID)
	text("Job: %s", h.JobID)
	text("Driver: %s", h.Driver)
	text("Dispatched: %s", h.DispatchedAt)
	text("Description: %s", h.Description)
	text("Panels (%d): %s", h.PanelCount, joinOrPlaceholder(h.PanelIDs))

	for _, section := range m.Sections {
		heading(2, section.Title)
		for _, entry := range section.Entries {
			heading(3, entry.Timestamp)
			for _, field := range entry.Fields {
				text("%s: %s", field.Label, field.Value)
			}
			switch {
			case entry.Signature != nil:
				out = append(out, mediaBlock(*entry.Signature))
			case section.EventType == domain.EventLeavingDepot:
				text("Depot Signature: %s", Placeholder)
			case section.EventType == domain.EventLeftSite:
				text("Receiver Signature: %s", Placeholder)
			}
			if entry.Delivery != nil {
				text("Delivered: %s", joinOrPlaceholder(entry.Delivery.Delivered))
				text("Undelivered: %s", joinOrPlaceholder(entry.Delivery.Undelivered))
			}
			if len(entry.Photos) > 0 {
				heading(4, "Photos")
				for _, photo := range entry.Photos {
					out = append(out, mediaBlock(photo))
				}
			}
		}
	}

	out = append(out, Block{Kind: BlockRule})
	text("%s", m.Footer)
	return out
}

func mediaBlock(v MediaView) Block {
	view := v
	if !v.Available {
		return Block{Kind: BlockPlaceholder, Text: "Could not load " + v.Filename, Media: &view}
	}
	return Block{Kind: BlockImage, Text: v.Label, Media: &view}
}

func joinOrPlaceholder(ids []string) string {
	if len(ids) == 0 {
		return Placeholder
	}
	return strings.Join(ids, ", ")
}
