package main

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Kind discriminates the item variants. It is also the record key namespace.
type Kind string

const (
	KindGift  Kind = "gift"
	KindPlace Kind = "place"
)

// Prefix returns the record store prefix holding every item of the kind.
func (k Kind) Prefix() string { return string(k) + ":" }

// Key returns the record store key of one item.
func (k Kind) Key(id string) string { return k.Prefix() + id }

// Priority of a gift.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Status of a place.
type Status string

const (
	StatusDreaming Status = "dreaming"
	StatusBooked   Status = "booked"
	StatusVisited  Status = "visited"
)

// Base holds the fields shared by every item kind.
//
// ImagePath is the stable reference to an uploaded blob. ImageURL is either a
// signed URL derived from ImagePath at read time or, when no blob is attached,
// a literal URL supplied by the client.
type Base struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required"`
	Note      string    `json:"note,omitempty"`
	ImageURL  *string   `json:"imageUrl,omitempty"`
	ImagePath *string   `json:"imagePath" validate:"omitempty,imagepath"`
	CreatedAt time.Time `json:"createdAt"`
}

// Gift is a wished-for present.
type Gift struct {
	Base
	Link     string   `json:"link,omitempty"`
	Priority Priority `json:"priority" validate:"oneof=high medium low"`
}

// Place is a wished-for destination.
type Place struct {
	Base
	Location string   `json:"location" validate:"required"`
	Status   Status   `json:"status" validate:"oneof=dreaming booked visited"`
	Tags     []string `json:"tags"`
	MapLink  string   `json:"mapLink,omitempty"`
}

// Item is implemented by *Gift and *Place.
type Item interface {
	Kind() Kind
	base() *Base
	// normalize trims input and fills defaults before validation.
	normalize()
	// resolve fills fields that are derived at read time and never stored.
	resolve()
}

func (g *Gift) Kind() Kind   { return KindGift }
func (g *Gift) base() *Base  { return &g.Base }
func (p *Place) Kind() Kind  { return KindPlace }
func (p *Place) base() *Base { return &p.Base }

func (g *Gift) normalize() {
	g.Base.normalize()
	g.Link = strings.TrimSpace(g.Link)
	g.Priority = Priority(strings.ToLower(strings.TrimSpace(string(g.Priority))))
	if g.Priority == "" {
		g.Priority = PriorityMedium
	}
}

func (g *Gift) resolve() {}

func (p *Place) normalize() {
	p.Base.normalize()
	p.Location = strings.TrimSpace(p.Location)
	p.MapLink = strings.TrimSpace(p.MapLink)
	p.Status = Status(strings.ToLower(strings.TrimSpace(string(p.Status))))
	if p.Status == "" {
		p.Status = StatusDreaming
	}
	tags := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	p.Tags = tags
}

func (p *Place) resolve() {
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.MapLink == "" {
		p.MapLink = extractURL(p.Note)
	}
}

func (b *Base) normalize() {
	b.Name = strings.TrimSpace(b.Name)
	b.ImagePath = nonEmpty(b.ImagePath)
	b.ImageURL = nonEmpty(b.ImageURL)
	// a signed URL expires, so it is never stored next to the blob reference
	if b.ImagePath != nil {
		b.ImageURL = nil
	}
}

// itemView renders an item for clients. An item with an attached image always
// carries imageUrl, null when the URL could not be signed.
func itemView(item Item) any {
	b := item.base()
	if b.ImagePath == nil {
		return item
	}
	switch v := item.(type) {
	case *Gift:
		return struct {
			*Gift
			ImageURL *string `json:"imageUrl"`
		}{v, b.ImageURL}
	case *Place:
		return struct {
			*Place
			ImageURL *string `json:"imageUrl"`
		}{v, b.ImageURL}
	}
	return item
}

func itemViews(items []Item) []any {
	views := make([]any, 0, len(items))
	for _, item := range items {
		views = append(views, itemView(item))
	}
	return views
}

// newItem returns an empty item of the given kind, ready to be decoded into.
func newItem(k Kind) (Item, error) {
	switch k {
	case KindGift:
		return &Gift{}, nil
	case KindPlace:
		return &Place{}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, k)
}

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// extractURL returns the first URL-like substring of s, or "".
func extractURL(s string) string {
	return urlPattern.FindString(s)
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
