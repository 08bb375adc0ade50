package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type outboxState uint8

const (
	outboxPending outboxState = iota
	outboxSent
	outboxFailed
)

const defaultOutboxBatch = 100

type outboxEntry struct {
	seq   uint64
	msg   domain.OutboxMessage
	state outboxState
}

// OutboxRepository — transactional outbox в памяти. Порядок выдачи: CreatedAt,
// затем порядок постановки в очередь.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries map[string]*outboxEntry
	nextSeq uint64
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{entries: make(map[string]*outboxEntry)}
}

// Enqueue ставит сообщение в очередь; пустые ID и CreatedAt заполняются.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Payload = slices.Clone(msg.Payload)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.entries[msg.ID]; dup {
		return domain.OutboxMessage{}, fmt.Errorf("outbox message %s already enqueued", msg.ID)
	}
	r.nextSeq++
	r.entries[msg.ID] = &outboxEntry{seq: r.nextSeq, msg: msg}
	return msg, nil
}

// PullPending возвращает до limit ожидающих сообщений; limit <= 0 — пачка по умолчанию.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	pending := r.pending()
	return pending[:min(limit, len(pending))], nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	pending := r.pending()
	if len(pending) == 0 {
		return domain.OutboxStats{}, nil
	}
	return domain.OutboxStats{PendingCount: len(pending), OldestPendingAt: pending[0].CreatedAt}, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.setState(id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.setState(id, outboxFailed)
}

// AllPending — снимок очереди для тестов.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.pending()
}

func (r *OutboxRepository) setState(id string, state outboxState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: unknown outbox message %s", domain.ErrOutboxPublish, id)
	}
	entry.state = state
	return nil
}

func (r *OutboxRepository) pending() []domain.OutboxMessage {
	r.mu.RLock()
	queue := make([]*outboxEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == outboxPending {
			queue = append(queue, e)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(queue, func(a, b *outboxEntry) int {
		if c := a.msg.CreatedAt.Compare(b.msg.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]domain.OutboxMessage, len(queue))
	for i, e := range queue {
		out[i] = e.msg
	}
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
