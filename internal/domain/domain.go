package domain

import (
	"maps"
	"time"
)

type ModeSummary struct {
	Text      string
	UpdatedAt time.Time
}

type StoredArticle struct {
	URL          string
	Title        string
	Author       string
	Domain       string
	LeadImageURL string
	Content      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Summaries    map[Mode]ModeSummary
}

// Clone returns a copy that shares no maps with the receiver.
func (a *StoredArticle) Clone() *StoredArticle {
	if a == nil {
		return nil
	}

	c := *a
	c.Summaries = make(map[Mode]ModeSummary, len(a.Summaries))
	maps.Copy(c.Summaries, a.Summaries)

	return &c
}

// SavedModes lists the modes that already have a summary, in catalogue order.
func (a *StoredArticle) SavedModes() []Mode {
	var saved []Mode
	for _, m := range Modes {
		if _, ok := a.Summaries[m]; ok {
			saved = append(saved, m)
		}
	}

	return saved
}

type ArticleListItem struct {
	URL       string
	Title     string
	Domain    string
	UpdatedAt time.Time
}

// ParsedFields carries a partial update from the extractor. Nil fields are left untouched.
type ParsedFields struct {
	Title        *string
	Author       *string
	Domain       *string
	LeadImageURL *string
	Content      *string
}

type ParsedArticle struct {
	URL          string `json:"url"`
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	Domain       string `json:"domain,omitempty"`
	LeadImageURL string `json:"lead_image_url,omitempty"`
	Content      string `json:"content"`
}

// Fields converts an extraction result into a partial update, skipping empty metadata.
func (p ParsedArticle) Fields() ParsedFields {
	var f ParsedFields

	if p.Title != "" {
		f.Title = &p.Title
	}
	if p.Author != "" {
		f.Author = &p.Author
	}
	if p.Domain != "" {
		f.Domain = &p.Domain
	}
	if p.LeadImageURL != "" {
		f.LeadImageURL = &p.LeadImageURL
	}
	f.Content = &p.Content

	return f
}
