package server

import (
	"airlive/models"
	"airlive/render"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/feeds"
	"github.com/samber/lo"
)

// Items without a title are named after the start of their content
const itemTitleLength = 60

// syndication builds an RSS/Atom feed of the valid updates in state, linking back to baseURL
func syndication(site render.Site, state models.FeedState, baseURL string) *feeds.Feed {
	baseURL = strings.TrimRight(baseURL, "/")

	valid := lo.Filter(state.Updates, func(u models.Update, _ int) bool {
		return u.Valid()
	})

	feed := &feeds.Feed{
		Title:       site.Title,
		Link:        &feeds.Link{Href: baseURL + "/"},
		Description: site.Description,
		Id:          baseURL + "/",
		Items: lo.Map(valid, func(u models.Update, _ int) *feeds.Item {
			return &feeds.Item{
				Id:          u.Id,
				Title:       itemTitle(u),
				Link:        &feeds.Link{Href: fmt.Sprintf("%s/#update-%s", baseURL, u.Id)},
				Description: u.Content,
				Created:     u.PublishedAt,
			}
		}),
	}

	// Newest first, so the first item dates the feed
	if len(valid) > 0 {
		feed.Updated = valid[0].PublishedAt
	} else {
		feed.Updated = time.Unix(0, 0).UTC()
	}
	feed.Created = feed.Updated

	return feed
}

func itemTitle(u models.Update) string {
	if u.Title != "" {
		return u.Title
	}
	content := strings.Join(strings.Fields(u.Content), " ")
	if utf8.RuneCountInString(content) <= itemTitleLength {
		return content
	}
	return string([]rune(content)[:itemTitleLength]) + "…"
}
