// Package render turns a FeedState into what readers see.
//
// Build is a pure function of its inputs. The writers only format a View, they never
// fetch or mutate anything.
package render

import (
	"airlive/models"
	"airlive/timefmt"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
)

const (
	StatusConnected    = "Connected"
	StatusReconnecting = "Reconnecting…"
	EmptyTitle         = "No updates yet"
	EmptyHint          = "Check back soon"
	EndOfFeed          = "End of feed"

	// Updates longer than this get a "Read more" control
	readMoreThreshold = 200
)

// Card is a single rendered update
type Card struct {
	Id       string
	Title    string
	Content  string
	Relative string
	Clock    string
	Full     string
	DateTime string
	Latest   bool
	ReadMore bool
	Degraded bool
}

// View is everything needed to draw the feed
type View struct {
	Connected  bool
	Status     string
	Clock      string
	Count      int
	CountLabel string
	Cards      []Card
	Empty      bool
	EmptyTitle string
	EmptyHint  string
	EndMarker  string
}

// Build renders state as of now, with times shown in loc
func Build(state models.FeedState, now time.Time, loc *time.Location) View {
	view := View{
		Connected:  state.IsConnected,
		Status:     StatusReconnecting,
		Clock:      timefmt.ClockLabel(now, loc),
		Count:      len(state.Updates),
		CountLabel: CountLabel(len(state.Updates)),
		Cards: lo.Map(state.Updates, func(u models.Update, i int) Card {
			return buildCard(u, i, now, loc)
		}),
	}

	if state.IsConnected {
		view.Status = StatusConnected
	}

	if len(view.Cards) == 0 {
		view.Empty = true
		view.EmptyTitle = EmptyTitle
		view.EmptyHint = EmptyHint
	} else {
		view.EndMarker = EndOfFeed
	}

	return view
}

// CountLabel returns e.g. "1 update" or "3 updates"
func CountLabel(n int) string {
	if n == 1 {
		return "1 update"
	}
	return fmt.Sprintf("%d updates", n)
}

func buildCard(u models.Update, index int, now time.Time, loc *time.Location) Card {
	card := Card{
		Id:       u.Id,
		Title:    u.Title,
		Content:  u.Content,
		Latest:   index == 0,
		ReadMore: utf8.RuneCountInString(u.Content) > readMoreThreshold,
		Degraded: !u.Valid(),
	}

	if !u.PublishedAt.IsZero() {
		card.Relative = timefmt.RelativeLabel(u.PublishedAt, now, loc)
		card.Clock = timefmt.ClockLabel(u.PublishedAt, loc)
		card.Full = timefmt.FullLabel(u.PublishedAt, loc)
		card.DateTime = u.PublishedAt.UTC().Format(time.RFC3339)
	}

	return card
}
