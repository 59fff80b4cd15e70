package store

import (
	"encoding/json"
	"fmt"
	"pagesum/internal/domain"
	"time"
)

// record is the persisted shape of an article, kept field-compatible with the summaries_v1 layout.
type record struct {
	URL          string                `json:"url"`
	Title        string                `json:"title,omitempty"`
	Author       string                `json:"author,omitempty"`
	Domain       string                `json:"domain,omitempty"`
	LeadImageURL *string               `json:"lead_image_url"`
	Content      string                `json:"content"`
	CreatedAt    int64                 `json:"createdAt"`
	UpdatedAt    int64                 `json:"updatedAt"`
	Summaries    map[string]modeRecord `json:"summaries"`
}

type modeRecord struct {
	Text      string `json:"text"`
	UpdatedAt int64  `json:"updatedAt"`
}

func encodeArticles(articles []*domain.StoredArticle) ([]byte, error) {
	records := make([]record, 0, len(articles))

	for _, a := range articles {
		r := record{
			URL:       a.URL,
			Title:     a.Title,
			Author:    a.Author,
			Domain:    a.Domain,
			Content:   a.Content,
			CreatedAt: a.CreatedAt.UnixMilli(),
			UpdatedAt: a.UpdatedAt.UnixMilli(),
			Summaries: make(map[string]modeRecord, len(a.Summaries)),
		}

		if a.LeadImageURL != "" {
			leadImageURL := a.LeadImageURL
			r.LeadImageURL = &leadImageURL
		}

		for mode, s := range a.Summaries {
			r.Summaries[string(mode)] = modeRecord{Text: s.Text, UpdatedAt: s.UpdatedAt.UnixMilli()}
		}

		records = append(records, r)
	}

	return json.Marshal(records)
}

func decodeArticles(raw []byte) ([]*domain.StoredArticle, error) {
	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("unmarshal articles: %w", err)
	}

	articles := make([]*domain.StoredArticle, 0, len(records))
	for _, r := range records {
		if r.URL == "" {
			continue
		}

		a := &domain.StoredArticle{
			URL:       r.URL,
			Title:     r.Title,
			Author:    r.Author,
			Domain:    r.Domain,
			Content:   r.Content,
			CreatedAt: time.UnixMilli(r.CreatedAt),
			UpdatedAt: time.UnixMilli(r.UpdatedAt),
			Summaries: make(map[domain.Mode]domain.ModeSummary, len(r.Summaries)),
		}

		if r.LeadImageURL != nil {
			a.LeadImageURL = *r.LeadImageURL
		}

		for key, s := range r.Summaries {
			mode := domain.Mode(key)
			if !mode.Valid() {
				continue
			}
			a.Summaries[mode] = domain.ModeSummary{Text: s.Text, UpdatedAt: time.UnixMilli(s.UpdatedAt)}
		}

		articles = append(articles, a)
	}

	return articles, nil
}
