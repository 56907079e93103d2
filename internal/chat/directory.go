package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// maxDirectoryPages stops Refresh from following a server that never
// reports the end of the list.
const maxDirectoryPages = 100

// CorrespondentPage is one page of the correspondent allow-list.
type CorrespondentPage struct {
	Items []Correspondent
	// HasMore is nil when the server gives no explicit signal.
	HasMore *bool
}

// CorrespondentFetcher lists the users the local account may message.
type CorrespondentFetcher interface {
	ListCorrespondents(ctx context.Context, search string, page, size int) (CorrespondentPage, error)
}

// Directory caches the correspondent allow-list for the session.
// Entries are added or refreshed, never removed, until Reset.
type Directory struct {
	fetcher  CorrespondentFetcher
	pageSize int

	mu     sync.RWMutex
	byID   map[string]Correspondent
	loaded bool
}

// NewDirectory returns an empty directory backed by fetcher.
func NewDirectory(fetcher CorrespondentFetcher, pageSize int) *Directory {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Directory{
		fetcher:  fetcher,
		pageSize: pageSize,
		byID:     make(map[string]Correspondent),
	}
}

// Refresh walks every page of the allow-list and upserts the results. Pages
// fetched before a failure are kept.
func (d *Directory) Refresh(ctx context.Context) (int, error) {
	if d.fetcher == nil {
		return 0, nil
	}
	total := 0
	for page := 0; page < maxDirectoryPages; page++ {
		res, err := d.fetcher.ListCorrespondents(ctx, "", page, d.pageSize)
		if err != nil {
			return total, &TransientError{Op: "list correspondents", Err: err}
		}
		d.Upsert(res.Items...)
		total += len(res.Items)

		more := len(res.Items) == d.pageSize
		if res.HasMore != nil {
			more = *res.HasMore
		}
		if !more || len(res.Items) == 0 {
			break
		}
	}
	d.mu.Lock()
	d.loaded = true
	d.mu.Unlock()
	return total, nil
}

// Upsert adds or refreshes correspondents. Empty fields never erase known
// names.
func (d *Directory) Upsert(cs ...Correspondent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range cs {
		if c.ID == "" {
			continue
		}
		if cur, ok := d.byID[c.ID]; ok {
			if c.DisplayName == "" {
				c.DisplayName = cur.DisplayName
			}
			if c.Nickname == "" {
				c.Nickname = cur.Nickname
			}
		}
		d.byID[c.ID] = c
	}
}

// Contains reports whether id is on the allow-list.
func (d *Directory) Contains(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byID[id]
	return ok
}

// Get returns the correspondent for id.
func (d *Directory) Get(id string) (Correspondent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byID[id]
	return c, ok
}

// Loaded reports whether a Refresh has completed.
func (d *Directory) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// All returns every correspondent ordered by id.
func (d *Directory) All() []Correspondent {
	return d.Search("")
}

// Search returns correspondents whose id, display name or nickname contains
// term, case-insensitively, ordered by id.
func (d *Directory) Search(term string) []Correspondent {
	term = strings.ToLower(strings.TrimSpace(term))
	d.mu.RLock()
	out := make([]Correspondent, 0, len(d.byID))
	for _, c := range d.byID {
		if term == "" ||
			strings.Contains(strings.ToLower(c.ID), term) ||
			strings.Contains(strings.ToLower(c.DisplayName), term) ||
			strings.Contains(strings.ToLower(c.Nickname), term) {
			out = append(out, c)
		}
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reset forgets every correspondent.
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID = make(map[string]Correspondent)
	d.loaded = false
}
