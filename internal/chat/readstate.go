package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultReceiptTimeout bounds one read-receipt request.
const DefaultReceiptTimeout = 10 * time.Second

// ReceiptSender tells the server a conversation has been read.
type ReceiptSender interface {
	MarkRead(ctx context.Context, key string) error
}

// ReadTracker clears unread counters on selection and sends read receipts.
// Receipts are best-effort: failures are logged and never retried.
type ReadTracker struct {
	list    *ConversationList
	sender  ReceiptSender
	timeout time.Duration
	log     *zap.Logger

	wg sync.WaitGroup
}

// NewReadTracker returns a tracker updating list and notifying sender.
func NewReadTracker(list *ConversationList, sender ReceiptSender, timeout time.Duration, log *zap.Logger) *ReadTracker {
	if timeout <= 0 {
		timeout = DefaultReceiptTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReadTracker{list: list, sender: sender, timeout: timeout, log: log}
}

// Select marks key as viewed, clears its unread count and sends a receipt.
func (t *ReadTracker) Select(key string) {
	t.list.Select(key)
	t.Receipt(key)
}

// ObservePush applies a push-delivered message to the list and sends a
// receipt when it landed in the viewed conversation.
func (t *ReadTracker) ObservePush(m Message, fresh bool) {
	if t.list.ObservePush(m, fresh) {
		t.Receipt(m.ConversationKey)
	}
}

// Receipt sends a read receipt for key in the background.
func (t *ReadTracker) Receipt(key string) {
	if t.sender == nil || key == "" {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.sender.MarkRead(ctx, key); err != nil {
			t.log.Warn("read receipt failed", zap.String("conversation", key), zap.Error(err))
			return
		}
		t.log.Debug("read receipt sent", zap.String("conversation", key))
	}()
}

// Wait blocks until every receipt started so far has finished.
func (t *ReadTracker) Wait() {
	t.wg.Wait()
}
