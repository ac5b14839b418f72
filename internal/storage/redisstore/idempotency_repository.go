package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultKeyPrefix = "storefront:idempotency:"
	opTimeout        = 2 * time.Second
)

// record - JSON-представление IdempotencyRecord в Redis.
type record struct {
	Key          string    `json:"key"`
	RequestHash  string    `json:"request_hash"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	Status       string    `json:"status"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IdempotencyRepository хранит ключи идемпотентности в Redis. Срок жизни
// ключа задаётся TTL самого Redis, поэтому DeleteExpired ничего не делает.
type IdempotencyRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewIdempotencyRepository создаёт репозиторий поверх готового клиента.
func NewIdempotencyRepository(client redis.UniversalClient, prefix string) *IdempotencyRepository {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &IdempotencyRepository{client: client, prefix: prefix}
}

func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(24 * time.Hour)
	}
	ttl := ttlAt.Sub(now)
	if ttl <= 0 {
		// Уже протухший ключ: храним минимально, чтобы запрос всё равно прошёл.
		ttl = time.Millisecond
	}

	rec := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	payload, err := json.Marshal(toRecord(rec))
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("encode idempotency record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	created, err := r.client.SetNX(ctx, r.prefix+key, payload, ttl).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}
	if !created {
		existing, getErr := r.Get(ctx, key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	return rec, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}
	return decodeRecord(key, raw)
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired - no-op: Redis удаляет ключи по TTL сам.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, _ time.Time, _ int) (int, error) {
	return 0, nil
}

// Ping проверяет доступность Redis для readiness.
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// markStatus обновляет запись под WATCH, сохраняя оставшийся TTL.
func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	redisKey := r.prefix + key
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, redisKey).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.ErrIdempotencyKeyNotFound
			}
			return err
		}

		rec, err := decodeRecord(key, raw)
		if err != nil {
			return err
		}
		rec.Status = status
		rec.ResponseBody = append([]byte(nil), responseBody...)
		rec.HTTPStatus = httpStatus
		rec.UpdatedAt = time.Now().UTC()

		payload, err := json.Marshal(toRecord(rec))
		if err != nil {
			return fmt.Errorf("encode idempotency record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, payload, redis.KeepTTL)
			return nil
		})
		return err
	}, redisKey)
	if err != nil {
		if errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
			return err
		}
		return fmt.Errorf("mark idempotency key status: %w", err)
	}

	return nil
}

func toRecord(src domain.IdempotencyRecord) record {
	return record{
		Key:          src.Key,
		RequestHash:  src.RequestHash,
		ResponseBody: src.ResponseBody,
		HTTPStatus:   src.HTTPStatus,
		Status:       string(src.Status),
		TTLAt:        src.TTLAt,
		CreatedAt:    src.CreatedAt,
		UpdatedAt:    src.UpdatedAt,
	}
}

func decodeRecord(key string, raw []byte) (domain.IdempotencyRecord, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}

	status := domain.IdempotencyStatus(rec.Status)
	if !status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", rec.Status, key)
	}

	return domain.IdempotencyRecord{
		Key:          rec.Key,
		RequestHash:  rec.RequestHash,
		ResponseBody: rec.ResponseBody,
		HTTPStatus:   rec.HTTPStatus,
		Status:       status,
		TTLAt:        rec.TTLAt,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
