package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// Site holds the page chrome
type Site struct {
	Title       string
	Tagline     string
	Description string
}

type pageData struct {
	Site         Site
	View         View
	Reconnecting string
}

// WritePage writes a complete HTML document with the feed and the live refresh script
func WritePage(w io.Writer, site Site, view View) error {
	err := templates.ExecuteTemplate(w, "page", pageData{
		Site:         site,
		View:         view,
		Reconnecting: StatusReconnecting,
	})
	if err != nil {
		return fmt.Errorf("could not render page: %w", err)
	}
	return nil
}

// WriteFeed writes the feed fragment that replaces the page's feed on refresh
func WriteFeed(w io.Writer, view View) error {
	if err := templates.ExecuteTemplate(w, "feed", view); err != nil {
		return fmt.Errorf("could not render feed: %w", err)
	}
	return nil
}

// FeedHTML returns the feed fragment as a string
func FeedHTML(view View) (string, error) {
	var buf bytes.Buffer
	if err := WriteFeed(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}
