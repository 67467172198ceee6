// Package memory provides process-local repository implementations for
// tests and single-instance development. State is lost on restart.
//
// Each table has its own lock guarding membership and indexes. Idempotency
// and delivery rows additionally carry a per-row mutex, so mutations of
// different keys never wait on each other. Lock order is row, then table;
// no code path takes a row lock while holding a table lock.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/repository"
)

// Store is an in-memory implementation of every repository.
type Store struct {
	nextID atomic.Int64

	idem       idempotencyTable
	deliveries deliveryTable
	requests   requestTable
	audit      auditTable
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		idem:       idempotencyTable{rows: make(map[entity.DeliveryKey]*idemRow)},
		deliveries: deliveryTable{
			rows:         make(map[entity.DeliveryKey]*deliveryRow),
			byID:         make(map[int64]*deliveryRow),
			byProviderID: make(map[string][]*deliveryRow),
		},
		requests: requestTable{rows: make(map[string]*entity.SendRequest)},
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() repository.Store {
	return repository.Store{
		Idempotency: idempotencyRepo{s},
		Deliveries:  deliveryRepo{s},
		Requests:    requestRepo{s},
		Audit:       auditRepo{s},
	}
}

func (s *Store) id() int64 {
	return s.nextID.Add(1)
}

/* ───────────── idempotency ───────────── */

type idemRow struct {
	mu  sync.Mutex
	rec entity.IdempotencyRecord
}

type idempotencyTable struct {
	mu   sync.RWMutex
	rows map[entity.DeliveryKey]*idemRow
}

func (t *idempotencyTable) lookup(key entity.DeliveryKey) *idemRow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows[key]
}

type idempotencyRepo struct{ s *Store }

func (r idempotencyRepo) TryStart(_ context.Context, key entity.DeliveryKey, now time.Time) (bool, error) {
	t := &r.s.idem
	row := t.lookup(key)
	if row == nil {
		t.mu.Lock()
		row = t.rows[key]
		if row == nil {
			t.rows[key] = &idemRow{rec: entity.IdempotencyRecord{
				ID: r.s.id(), RequestID: key.RequestID, Channel: key.Channel,
				Recipient: key.Recipient, MediaKind: key.MediaKind,
				Status: entity.IdempotencyInProgress, CreatedAt: now,
			}}
			t.mu.Unlock()
			return true, nil
		}
		t.mu.Unlock()
	}

	row.mu.Lock()
	defer row.mu.Unlock()
	if row.rec.Status != entity.IdempotencyFailed {
		return false, nil
	}
	row.rec.Status = entity.IdempotencyInProgress
	row.rec.CreatedAt = now
	row.rec.CompletedAt = nil
	return true, nil
}

func (r idempotencyRepo) MarkCompleted(_ context.Context, key entity.DeliveryKey, now time.Time) error {
	row := r.s.idem.lookup(key)
	if row == nil {
		return nil
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.rec.Status == entity.IdempotencyInProgress {
		row.rec.Status = entity.IdempotencyCompleted
		t := now
		row.rec.CompletedAt = &t
	}
	return nil
}

func (r idempotencyRepo) MarkFailed(_ context.Context, key entity.DeliveryKey) error {
	row := r.s.idem.lookup(key)
	if row == nil {
		return nil
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.rec.Status == entity.IdempotencyInProgress {
		row.rec.Status = entity.IdempotencyFailed
	}
	return nil
}

func (r idempotencyRepo) Get(_ context.Context, key entity.DeliveryKey) (*entity.IdempotencyRecord, error) {
	row := r.s.idem.lookup(key)
	if row == nil {
		return nil, nil
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	cp := row.rec
	return &cp, nil
}

/* ───────────── delivery states ───────────── */

type deliveryRow struct {
	mu sync.Mutex
	st entity.DeliveryState
}

func (row *deliveryRow) snapshot() *entity.DeliveryState {
	row.mu.Lock()
	defer row.mu.Unlock()
	cp := row.st
	return &cp
}

// deliveryTable indexes rows by key, surrogate ID and provider message ID.
type deliveryTable struct {
	mu           sync.RWMutex
	rows         map[entity.DeliveryKey]*deliveryRow
	byID         map[int64]*deliveryRow
	byProviderID map[string][]*deliveryRow
}

func (t *deliveryTable) lookup(key entity.DeliveryKey) *deliveryRow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rows[key]
}

func (t *deliveryTable) lookupID(id int64) *deliveryRow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[id]
}

func (t *deliveryTable) lookupProviderID(providerMessageID string) []*deliveryRow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows := t.byProviderID[providerMessageID]
	return append([]*deliveryRow(nil), rows...)
}

func (t *deliveryTable) all() []*deliveryRow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*deliveryRow, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, row)
	}
	return out
}

// reindex moves row from oldID to newID in the provider message index.
func (t *deliveryTable) reindex(row *deliveryRow, oldID, newID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if oldID != "" {
		rows := t.byProviderID[oldID]
		for i, r := range rows {
			if r == row {
				rows = append(rows[:i], rows[i+1:]...)
				break
			}
		}
		if len(rows) == 0 {
			delete(t.byProviderID, oldID)
		} else {
			t.byProviderID[oldID] = rows
		}
	}
	t.byProviderID[newID] = append(t.byProviderID[newID], row)
}

type deliveryRepo struct{ s *Store }

func (r deliveryRepo) getOrCreate(key entity.DeliveryKey, now time.Time) *deliveryRow {
	t := &r.s.deliveries
	if row := t.lookup(key); row != nil {
		return row
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if row := t.rows[key]; row != nil {
		return row
	}
	row := &deliveryRow{st: entity.DeliveryState{
		ID: r.s.id(), RequestID: key.RequestID, Channel: key.Channel,
		Recipient: key.Recipient, MediaKind: key.MediaKind, CreatedAt: now,
	}}
	t.rows[key] = row
	t.byID[row.st.ID] = row
	return row
}

func (r deliveryRepo) Upsert(_ context.Context, key entity.DeliveryKey, upd repository.DeliveryUpdate, now time.Time) error {
	row := r.getOrCreate(key, now)

	row.mu.Lock()
	defer row.mu.Unlock()
	oldID := row.st.ProviderMessageID
	row.st.Status = upd.Status
	if upd.ProviderMessageID != "" {
		row.st.ProviderMessageID = upd.ProviderMessageID
	}
	row.st.FailureReason = upd.FailureReason
	row.st.UpdatedAt = now
	if row.st.ProviderMessageID != oldID {
		r.s.deliveries.reindex(row, oldID, row.st.ProviderMessageID)
	}
	return nil
}

func (r deliveryRepo) ApplyWebhookStatus(_ context.Context, providerMessageID string, status entity.DeliveryStatus, now time.Time) (bool, error) {
	applied := false
	for _, row := range r.s.deliveries.lookupProviderID(providerMessageID) {
		row.mu.Lock()
		if row.st.ProviderMessageID == providerMessageID && row.st.Status.CanAdvanceTo(status) {
			row.st.Status = status
			row.st.UpdatedAt = now
			applied = true
		}
		row.mu.Unlock()
	}
	return applied, nil
}

func (r deliveryRepo) MarkFallbackTriggered(_ context.Context, id int64, fallback entity.Channel) (bool, error) {
	row := r.s.deliveries.lookupID(id)
	if row == nil {
		return false, nil
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	if row.st.FallbackTriggered {
		return false, nil
	}
	row.st.FallbackTriggered = true
	row.st.FallbackChannel = fallback
	return true, nil
}

func (r deliveryRepo) Get(_ context.Context, key entity.DeliveryKey) (*entity.DeliveryState, error) {
	row := r.s.deliveries.lookup(key)
	if row == nil {
		return nil, nil
	}
	return row.snapshot(), nil
}

func (r deliveryRepo) GetByProviderMessageID(_ context.Context, providerMessageID string) (*entity.DeliveryState, error) {
	var latest *entity.DeliveryState
	for _, row := range r.s.deliveries.lookupProviderID(providerMessageID) {
		st := row.snapshot()
		if st.ProviderMessageID == providerMessageID && (latest == nil || st.UpdatedAt.After(latest.UpdatedAt)) {
			latest = st
		}
	}
	return latest, nil
}

func (r deliveryRepo) ListByRequestID(_ context.Context, requestID string) ([]*entity.DeliveryState, error) {
	return r.filter(func(st *entity.DeliveryState) bool { return st.RequestID == requestID }, func(a, b *entity.DeliveryState) bool {
		return a.ID < b.ID
	}), nil
}

func (r deliveryRepo) FindStale(_ context.Context, status entity.DeliveryStatus, cutoff time.Time) ([]*entity.DeliveryState, error) {
	return r.filter(func(st *entity.DeliveryState) bool {
		return st.Status == status && st.UpdatedAt.Before(cutoff)
	}, func(a, b *entity.DeliveryState) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}), nil
}

func (r deliveryRepo) filter(keep func(*entity.DeliveryState) bool, less func(a, b *entity.DeliveryState) bool) []*entity.DeliveryState {
	var out []*entity.DeliveryState
	for _, row := range r.s.deliveries.all() {
		if st := row.snapshot(); keep(st) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

/* ───────────── requests and audit ───────────── */

type requestTable struct {
	mu   sync.RWMutex
	rows map[string]*entity.SendRequest
}

type requestRepo struct{ s *Store }

func (r requestRepo) Save(_ context.Context, req *entity.SendRequest) error {
	t := &r.s.requests
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[req.RequestID]; ok {
		return nil
	}
	cp := *req
	t.rows[req.RequestID] = &cp
	return nil
}

func (r requestRepo) Get(_ context.Context, requestID string) (*entity.SendRequest, error) {
	t := &r.s.requests
	t.mu.RLock()
	defer t.mu.RUnlock()
	req, ok := t.rows[requestID]
	if !ok {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

type auditTable struct {
	mu       sync.Mutex
	attempts []*entity.DeliveryAttempt
	webhooks map[string][]*entity.WebhookEventRecord
}

type auditRepo struct{ s *Store }

func (r auditRepo) RecordAttempt(_ context.Context, a *entity.DeliveryAttempt) error {
	a.ID = r.s.id()
	cp := *a
	t := &r.s.audit
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = append(t.attempts, &cp)
	return nil
}

func (r auditRepo) RecordWebhookEvent(_ context.Context, ev *entity.WebhookEventRecord) error {
	ev.ID = r.s.id()
	cp := *ev
	t := &r.s.audit
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.webhooks == nil {
		t.webhooks = make(map[string][]*entity.WebhookEventRecord)
	}
	t.webhooks[ev.ProviderMessageID] = append(t.webhooks[ev.ProviderMessageID], &cp)
	return nil
}

func (r auditRepo) ListWebhookEvents(_ context.Context, providerMessageID string) ([]*entity.WebhookEventRecord, error) {
	t := &r.s.audit
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*entity.WebhookEventRecord
	for _, ev := range t.webhooks[providerMessageID] {
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

// Attempts returns a snapshot of every recorded attempt.
func (s *Store) Attempts() []entity.DeliveryAttempt {
	s.audit.mu.Lock()
	defer s.audit.mu.Unlock()
	out := make([]entity.DeliveryAttempt, len(s.audit.attempts))
	for i, a := range s.audit.attempts {
		out[i] = *a
	}
	return out
}
