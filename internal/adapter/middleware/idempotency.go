package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/MziziM/ChurpayPlatform-sub002/internal/core/security"
)

const IdempotencyHeader = "Idempotency-Key"

// CachedResponse is what a first request produced under a key.
type CachedResponse struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

// ResponseStore keeps responses by key. Save must not overwrite an existing key.
type ResponseStore interface {
	Get(ctx context.Context, key string) (CachedResponse, bool, error)
	Save(ctx context.Context, key string, r CachedResponse) error
}

// Idempotency requires an Idempotency-Key on mutating requests and replays
// the stored response when the same key comes back with the same request.
// The same key with a different request is a 409.
func Idempotency(store ResponseStore, log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
		default:
			return c.Next()
		}

		key := c.Get(IdempotencyHeader)
		if key == "" {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": "Idempotency-Key header is required", "code": "validation_error",
			})
		}

		// Keys are scoped to the caller.
		subject := ""
		if actor, ok := ActorFrom(c); ok {
			subject = actor.Subject
		}
		storeKey := security.Fingerprint([]byte(subject), []byte(key))
		fingerprint := security.Fingerprint([]byte(c.Method()), []byte(c.Path()), c.Body())

		cached, found, err := store.Get(c.UserContext(), storeKey)
		if err != nil {
			// The services are idempotent on their own; a cache outage only
			// loses byte-identical replays.
			log.Error("idempotency lookup failed", "error", err)
		}
		if found {
			if cached.Fingerprint != fingerprint {
				log.Warn("idempotency key reused with a different request", "path", c.Path())
				return c.Status(http.StatusConflict).JSON(fiber.Map{
					"error": "Idempotency-Key already used with a different request", "code": "duplicate_operation",
				})
			}
			log.Info("idempotency hit, returning cached response", "path", c.Path())
			c.Set("X-Idempotency-Hit", "true")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(cached.Status).Send(cached.Body)
		}

		if err := c.Next(); err != nil {
			return err
		}

		// Server-side failures are not cached so the client can retry.
		status := c.Response().StatusCode()
		if status >= http.StatusInternalServerError {
			return nil
		}
		body := append([]byte(nil), c.Response().Body()...)
		if err := store.Save(c.UserContext(), storeKey, CachedResponse{Fingerprint: fingerprint, Status: status, Body: body}); err != nil {
			log.Error("failed to save idempotency key", "error", err)
		}
		return nil
	}
}

// RedisResponses keeps responses in Redis for ttl.
type RedisResponses struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisResponses(client *redis.Client, ttl time.Duration) *RedisResponses {
	return &RedisResponses{client: client, ttl: ttl}
}

func (r *RedisResponses) Get(ctx context.Context, key string) (CachedResponse, bool, error) {
	raw, err := r.client.Get(ctx, "idem:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedResponse{}, false, nil
	}
	if err != nil {
		return CachedResponse{}, false, err
	}
	var out CachedResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return CachedResponse{}, false, err
	}
	return out, true, nil
}

func (r *RedisResponses) Save(ctx context.Context, key string, resp CachedResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return r.client.SetNX(ctx, "idem:"+key, raw, r.ttl).Err()
}

// PostgresResponses keeps responses in the idempotency_keys table.
type PostgresResponses struct {
	db *pgxpool.Pool
}

func NewPostgresResponses(db *pgxpool.Pool) *PostgresResponses {
	return &PostgresResponses{db: db}
}

func (p *PostgresResponses) Get(ctx context.Context, key string) (CachedResponse, bool, error) {
	var out CachedResponse
	err := p.db.QueryRow(ctx,
		"SELECT fingerprint, response_status, response_body FROM idempotency_keys WHERE key_id = $1",
		key).Scan(&out.Fingerprint, &out.Status, &out.Body)
	if errors.Is(err, pgx.ErrNoRows) {
		return CachedResponse{}, false, nil
	}
	if err != nil {
		return CachedResponse{}, false, err
	}
	return out, true, nil
}

func (p *PostgresResponses) Save(ctx context.Context, key string, r CachedResponse) error {
	_, err := p.db.Exec(ctx,
		"INSERT INTO idempotency_keys (key_id, fingerprint, response_status, response_body) VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING",
		key, r.Fingerprint, r.Status, r.Body)
	return err
}

// MemoryResponses is the in-process store used with the memory ledger.
type MemoryResponses struct {
	mu   sync.Mutex
	data map[string]CachedResponse
}

func NewMemoryResponses() *MemoryResponses {
	return &MemoryResponses{data: make(map[string]CachedResponse)}
}

func (m *MemoryResponses) Get(_ context.Context, key string) (CachedResponse, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.data[key]
	return r, ok, nil
}

func (m *MemoryResponses) Save(_ context.Context, key string, r CachedResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		m.data[key] = r
	}
	return nil
}
