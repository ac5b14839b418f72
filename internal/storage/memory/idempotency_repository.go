package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// idempotencyStore держит ответы create-order по Idempotency-Key в памяти
// процесса. Записи возвращаются копиями.
type idempotencyStore struct {
	mu      sync.RWMutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт in-memory хранилище ключей идемпотентности.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyStore{
		records: make(map[string]domain.IdempotencyRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateProcessing занимает ключ. Истёкшую запись с тем же ключом заменяет,
// не дожидаясь очистки.
func (s *idempotencyStore) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := s.now()
	fresh, err := domain.NewIdempotencyRecord(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.records[fresh.Key]; ok && !held.Expired(now) {
		return copyRecord(held), held.ConflictWith(fresh.RequestHash)
	}
	s.records[fresh.Key] = fresh
	return copyRecord(fresh), nil
}

func (s *idempotencyStore) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(rec), nil
}

func (s *idempotencyStore) MarkDone(_ context.Context, key string, body []byte, httpStatus int) error {
	return s.complete(key, domain.IdempotencyStatusDone, body, httpStatus)
}

func (s *idempotencyStore) MarkFailed(_ context.Context, key string, body []byte, httpStatus int) error {
	return s.complete(key, domain.IdempotencyStatusFailed, body, httpStatus)
}

// DeleteExpired удаляет до limit записей с TTL <= before, начиная с самых
// старых. limit <= 0 снимает ограничение.
func (s *idempotencyStore) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []domain.IdempotencyRecord
	for _, rec := range s.records {
		if rec.Expired(before) {
			expired = append(expired, rec)
		}
	}
	slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int {
		return cmp.Or(a.TTLAt.Compare(b.TTLAt), strings.Compare(a.Key, b.Key))
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, rec := range expired {
		delete(s.records, rec.Key)
	}
	return len(expired), nil
}

func (s *idempotencyStore) complete(key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	s.records[key] = rec.Complete(status, body, httpStatus, s.now())
	return nil
}

func copyRecord(rec domain.IdempotencyRecord) domain.IdempotencyRecord {
	rec.ResponseBody = slices.Clone(rec.ResponseBody)
	return rec
}

var _ domain.IdempotencyRepository = (*idempotencyStore)(nil)
