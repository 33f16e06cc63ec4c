package models

import "time"

// Update is a single feed entry as returned by the content store
type Update struct {
	Id          string    `json:"_id"`
	Title       string    `json:"title,omitempty"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Valid reports whether the store returned every required field
func (u Update) Valid() bool {
	return u.Id != "" && u.Content != "" && !u.PublishedAt.IsZero()
}

// Signal fired by a subscription whenever any update is created, edited or deleted.
// It carries no payload, receivers re-read the feed.
type Signal struct{}

// Phase of a feed synchronizer
type Phase int

const (
	Uninitialized Phase = iota
	Live
	Disconnected
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Live:
		return "live"
	case Disconnected:
		return "disconnected"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// FeedState is the in-memory projection of the feed plus connectivity
type FeedState struct {
	Updates     []Update `json:"updates"`
	IsConnected bool     `json:"isConnected"`
}

// Copy returns a FeedState that shares no memory with s
func (s FeedState) Copy() FeedState {
	updates := make([]Update, len(s.Updates))
	copy(updates, s.Updates)
	return FeedState{
		Updates:     updates,
		IsConnected: s.IsConnected,
	}
}

// Ids returns the update ids in feed order
func (s FeedState) Ids() []string {
	ids := make([]string, len(s.Updates))
	for i, u := range s.Updates {
		ids[i] = u.Id
	}
	return ids
}
