// Package markdown renders report models as paginated markdown documents.
package markdown

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/hylla/podtrack/internal/domain"
	"github.com/hylla/podtrack/internal/report"
)

// DefaultPageLines is the page height used when Renderer.PageLines is unset.
const DefaultPageLines = 60

// MediaURLFunc maps a media reference to the link embedded in the document.
type MediaURLFunc func(loadsheetID string, eventType domain.EventType, filename string) string

// Renderer writes markdown. Headings never end a page, so a section title stays with its first line.
type Renderer struct {
	PageLines int
	MediaURL  MediaURLFunc
}

// New constructs a renderer with the given page height and media link builder.
func New(pageLines int, mediaURL MediaURLFunc) *Renderer {
	return &Renderer{PageLines: pageLines, MediaURL: mediaURL}
}

// APIMediaURL links media through the HTTP API mounted at prefix.
func APIMediaURL(prefix string) MediaURLFunc {
	prefix = strings.TrimRight(prefix, "/")
	return func(loadsheetID string, eventType domain.EventType, filename string) string {
		return prefix + "/media/" + url.PathEscape(loadsheetID) + "/" + url.PathEscape(string(eventType)) + "/" + url.PathEscape(filename)
	}
}

// Render writes the model, calling onPageBreak whenever a new page starts.
func (r *Renderer) Render(ctx context.Context, w io.Writer, m report.Model, onPageBreak report.PageBreakFunc) error {
	pageLines := r.PageLines
	if pageLines <= 0 {
		pageLines = DefaultPageLines
	}
	bw := bufio.NewWriter(w)
	page, used := 1, 0
	blocks := m.Blocks()
	for i, b := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		lines := r.blockLines(b)
		need := len(lines)
		if b.Kind == report.BlockHeading && i+1 < len(blocks) {
			need += len(r.blockLines(blocks[i+1]))
		}
		if used > 0 && used+need > pageLines {
			page++
			used = 0
			if _, err := bw.WriteString("\n<!-- page " + fmt.Sprint(page) + " -->\n\n"); err != nil {
				return err
			}
			if onPageBreak != nil {
				onPageBreak(page)
			}
		}
		for _, line := range lines {
			if _, err := bw.WriteString(line + "\n"); err != nil {
				return err
			}
		}
		used += len(lines)
	}
	return bw.Flush()
}

func (r *Renderer) blockLines(b report.Block) []string {
	switch b.Kind {
	case report.BlockHeading:
		level := min(max(b.Level, 1), 6)
		return []string{strings.Repeat("#", level) + " " + b.Text, ""}
	case report.BlockImage:
		return []string{fmt.Sprintf("![%s](%s)", b.Text, r.link(b.Media)), ""}
	case report.BlockPlaceholder:
		return []string{"_" + b.Text + "_", ""}
	case report.BlockRule:
		return []string{"---", ""}
	default:
		return []string{escapeText(b.Text) + "  "}
	}
}

func (r *Renderer) link(v *report.MediaView) string {
	if v == nil {
		return ""
	}
	if r.MediaURL == nil {
		return v.Filename
	}
	return r.MediaURL(v.LoadsheetID, v.EventType, v.Filename)
}

// escapeText keeps field values from starting markdown structure.
func escapeText(s string) string {
	if strings.HasPrefix(s, "#") || strings.HasPrefix(s, "-") || strings.HasPrefix(s, ">") {
		return `\` + s
	}
	return s
}
