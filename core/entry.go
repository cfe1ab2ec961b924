package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MaxImagesPerEntry caps the image references attached to one entry.
const MaxImagesPerEntry = 5

// ProgressEntry is one logged day of progress. The core treats it as read-only.
type ProgressEntry struct {
	ID        string    `json:"id"`
	UserID    UserID    `json:"user_id"`
	Date      Date      `json:"date"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Note      string    `json:"note"`
	Images    []string  `json:"images"`
	Tags      []string  `json:"tags"`
	XPEarned  int64     `json:"xp_earned"`
}

// WordCount counts whitespace separated words in the note.
func (e ProgressEntry) WordCount() int { return len(strings.Fields(e.Note)) }

// Clone returns a copy that shares no slices with e.
func (e ProgressEntry) Clone() ProgressEntry {
	cp := e
	cp.Images = append([]string(nil), e.Images...)
	cp.Tags = append([]string(nil), e.Tags...)
	return cp
}

// EntryInput carries the caller-supplied fields of a new entry.
type EntryInput struct {
	Date   Date     `json:"date"`
	Note   string   `json:"note"`
	Images []string `json:"images"`
	Tags   []string `json:"tags"`
}

// Validate checks required fields and limits.
func (in EntryInput) Validate() error {
	if in.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	return validateImages(in.Images, "images")
}

// validateImages enforces the per-entry cap and rejects blank references.
func validateImages(images []string, field string) error {
	if len(images) > MaxImagesPerEntry {
		return fmt.Errorf("%w: at most %d images per entry", ErrInvalidInput, MaxImagesPerEntry)
	}
	for i, img := range images {
		if strings.TrimSpace(img) == "" {
			return fmt.Errorf("%w: %s[%d] is empty", ErrInvalidInput, field, i)
		}
	}
	return nil
}

// EntryPatch describes an edit to an existing entry. Nil Note leaves the note unchanged.
type EntryPatch struct {
	Note         *string  `json:"note,omitempty"`
	AddImages    []string `json:"add_images,omitempty"`
	RemoveImages []string `json:"remove_images,omitempty"`
}

// Apply returns a copy of e with the patch applied.
func (e ProgressEntry) Apply(p EntryPatch, now time.Time) (ProgressEntry, error) {
	for i, img := range p.AddImages {
		if strings.TrimSpace(img) == "" {
			return ProgressEntry{}, fmt.Errorf("%w: add_images[%d] is empty", ErrInvalidInput, i)
		}
	}
	out := e.Clone()
	if p.Note != nil {
		out.Note = *p.Note
	}
	if len(p.RemoveImages) > 0 {
		drop := make(map[string]struct{}, len(p.RemoveImages))
		for _, img := range p.RemoveImages {
			drop[img] = struct{}{}
		}
		kept := out.Images[:0]
		for _, img := range out.Images {
			if _, ok := drop[img]; !ok {
				kept = append(kept, img)
			}
		}
		out.Images = kept
	}
	out.Images = append(out.Images, p.AddImages...)
	if err := validateImages(out.Images, "images"); err != nil {
		return ProgressEntry{}, err
	}
	out.UpdatedAt = now.UTC()
	return out, nil
}

// NormalizeTags lowercases, trims and de-duplicates tags keeping first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// EntryDates extracts the activity day of every entry.
func EntryDates(entries []ProgressEntry) []Date {
	out := make([]Date, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Date)
	}
	return out
}

// EntryFilter narrows an entry listing. Zero fields do not filter.
type EntryFilter struct {
	From  Date   `json:"from"`
	To    Date   `json:"to"`
	Tag   string `json:"tag"`
	Limit int    `json:"limit"`
}

// Match reports whether e passes the date range and tag conditions. Limit is applied by the caller.
func (f EntryFilter) Match(e ProgressEntry) bool {
	if !f.From.IsZero() && e.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Date.After(f.To) {
		return false
	}
	if f.Tag == "" {
		return true
	}
	for _, t := range e.Tags {
		if t == f.Tag {
			return true
		}
	}
	return false
}

// SortEntries orders entries newest first: by date, then creation time, then id.
func SortEntries(entries []ProgressEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Date != b.Date {
			return a.Date.After(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// ApplyFilter keeps the entries matching f, sorted newest first and truncated to f.Limit.
func ApplyFilter(entries []ProgressEntry, f EntryFilter) []ProgressEntry {
	out := make([]ProgressEntry, 0, len(entries))
	for _, e := range entries {
		if f.Match(e) {
			out = append(out, e.Clone())
		}
	}
	SortEntries(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
