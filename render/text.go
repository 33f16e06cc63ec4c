package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/labstack/gommon/color"
)

// TextWriter renders a View for a terminal
type TextWriter struct {
	color *color.Color
}

// NewTextWriter returns a writer that colours its output when colored is true
func NewTextWriter(colored bool) *TextWriter {
	c := color.New()
	if colored {
		c.Enable()
	} else {
		c.Disable()
	}
	return &TextWriter{color: c}
}

func (t *TextWriter) Write(w io.Writer, view View) error {
	var b strings.Builder

	status := t.color.Grey(view.Status)
	if view.Connected {
		status = t.color.Green(view.Status)
	}
	fmt.Fprintf(&b, "%s  %s  %s  %s\n", t.color.Bold("Live Updates"), status, view.Clock, view.CountLabel)
	b.WriteString(strings.Repeat("─", 60))
	b.WriteString("\n")

	for _, card := range view.Cards {
		b.WriteString("\n")
		if card.Latest {
			b.WriteString(t.color.Green("Latest"))
			b.WriteString("\n")
		}
		header := card.Relative
		if card.Clock != "" {
			header = fmt.Sprintf("%s · %s", card.Relative, card.Clock)
		}
		if card.Title != "" {
			fmt.Fprintf(&b, "%s  %s\n", t.color.Bold(card.Title), t.color.Grey(header))
		} else {
			fmt.Fprintf(&b, "%s\n", t.color.Grey(header))
		}
		b.WriteString(card.Content)
		b.WriteString("\n")
		if card.ReadMore {
			b.WriteString(t.color.Grey("Read more →"))
			b.WriteString("\n")
		}
	}

	if view.Empty {
		fmt.Fprintf(&b, "\n%s\n%s\n", t.color.Bold(view.EmptyTitle), t.color.Grey(view.EmptyHint))
	}
	if view.EndMarker != "" {
		fmt.Fprintf(&b, "\n%s\n", t.color.Grey("— "+view.EndMarker+" —"))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
