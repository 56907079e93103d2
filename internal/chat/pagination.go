package chat

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// CursorState is the per-conversation pagination state.
type CursorState int

const (
	CursorIdle CursorState = iota
	CursorLoading
	CursorLoaded
	CursorExhausted
)

func (s CursorState) String() string {
	switch s {
	case CursorIdle:
		return "idle"
	case CursorLoading:
		return "loading"
	case CursorLoaded:
		return "loaded"
	case CursorExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Cursor points at the next page of older history to fetch.
type Cursor struct {
	ConversationKey string
	PageIndex       int
	HasMore         bool
	State           CursorState
}

// MessagePage is one raw page of history, newest page first on the server.
type MessagePage struct {
	Items []json.RawMessage
	// HasMore is nil when the server gives no explicit signal.
	HasMore *bool
}

// PageFetcher fetches one page of a conversation's history.
type PageFetcher interface {
	FetchMessages(ctx context.Context, key string, page, size int) (MessagePage, error)
}

// MergeFunc applies normalized messages to the store and returns the result.
type MergeFunc func(key string, msgs []Message) MergeResult

// Paginator drives backward history fetches. Each conversation has at most
// one load in flight; concurrent requests are rejected, not queued.
type Paginator struct {
	fetcher  PageFetcher
	norm     *Normalizer
	merge    MergeFunc
	pageSize int
	log      *zap.Logger

	mu      sync.Mutex
	cursors map[string]*Cursor
	// resets holds keys reset while a load was in flight.
	resets map[string]bool
}

// NewPaginator wires a fetcher, normalizer and merge sink together.
func NewPaginator(fetcher PageFetcher, norm *Normalizer, merge MergeFunc, pageSize int, log *zap.Logger) *Paginator {
	if pageSize <= 0 {
		pageSize = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Paginator{
		fetcher:  fetcher,
		norm:     norm,
		merge:    merge,
		pageSize: pageSize,
		log:      log,
		cursors:  make(map[string]*Cursor),
		resets:   make(map[string]bool),
	}
}

// PageSize returns the number of messages requested per page.
func (p *Paginator) PageSize() int {
	return p.pageSize
}

func (p *Paginator) cursor(key string) *Cursor {
	c, ok := p.cursors[key]
	if !ok {
		c = &Cursor{ConversationKey: key, HasMore: true}
		p.cursors[key] = c
	}
	return c
}

// Cursor returns a copy of the cursor for key.
func (p *Paginator) Cursor(key string) Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.cursor(key)
}

// LoadPage fetches page of key's history and merges it. On failure the
// cursor returns to its previous state and a TransientError is returned.
func (p *Paginator) LoadPage(ctx context.Context, key string, page int) (MergeResult, error) {
	p.mu.Lock()
	c := p.cursor(key)
	if c.State == CursorLoading {
		p.mu.Unlock()
		return MergeResult{Key: key}, ErrLoadInFlight
	}
	prev := *c
	c.State = CursorLoading
	p.mu.Unlock()

	res, err := p.fetcher.FetchMessages(ctx, key, page, p.pageSize)
	if err != nil {
		p.mu.Lock()
		*c = prev
		p.applyReset(key, c)
		p.mu.Unlock()
		return MergeResult{Key: key}, &TransientError{Op: "fetch messages", Err: err}
	}

	msgs := make([]Message, 0, len(res.Items))
	for _, raw := range res.Items {
		m, err := p.norm.DecodeHistory(key, raw)
		if err != nil {
			p.log.Warn("dropping history entry", zap.String("conversation", key), zap.Error(err))
			continue
		}
		msgs = append(msgs, m)
	}
	merged := p.merge(key, msgs)

	more := len(res.Items) == p.pageSize
	if res.HasMore != nil {
		more = *res.HasMore
	}

	p.mu.Lock()
	c.PageIndex = page + 1
	c.HasMore = more
	c.State = CursorLoaded
	if !more {
		c.State = CursorExhausted
	}
	p.applyReset(key, c)
	p.mu.Unlock()

	p.log.Debug("history page loaded",
		zap.String("conversation", key),
		zap.Int("page", page),
		zap.Int("items", len(res.Items)),
		zap.Int("added", merged.Added),
		zap.Bool("has_more", more),
	)
	return merged, nil
}

// LoadNext fetches the page the cursor points at. It is a no-op once the
// conversation is exhausted.
func (p *Paginator) LoadNext(ctx context.Context, key string) (MergeResult, error) {
	c := p.Cursor(key)
	if c.State == CursorExhausted || !c.HasMore {
		return MergeResult{Key: key}, nil
	}
	return p.LoadPage(ctx, key, c.PageIndex)
}

// Reset points key's cursor back at the newest page. Already merged
// messages are untouched. While a load is in flight the reset is deferred
// until that load finishes.
func (p *Paginator) Reset(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.cursor(key)
	if c.State == CursorLoading {
		p.resets[key] = true
		return
	}
	*c = Cursor{ConversationKey: key, HasMore: true}
}

// applyReset performs a reset deferred by Reset. p.mu must be held.
func (p *Paginator) applyReset(key string, c *Cursor) {
	if !p.resets[key] {
		return
	}
	delete(p.resets, key)
	*c = Cursor{ConversationKey: key, HasMore: true}
}

// ResetAll forgets every cursor.
func (p *Paginator) ResetAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors = make(map[string]*Cursor)
	p.resets = make(map[string]bool)
}
