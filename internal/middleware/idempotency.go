package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/carreto/dispatch/internal/errors"
	"github.com/carreto/dispatch/pkg/utils"
	"github.com/redis/go-redis/v9"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	idempotencyLock   = 30 * time.Second
	idempotencyPrefix = "idempotency:"
)

// IdempotencyMiddleware replays the stored response of a POST retried with
// the same Idempotency-Key. Ride guards already make retries safe; this only
// spares the client a guard_failed answer to its own retry.
type IdempotencyMiddleware struct {
	redis  *redis.Client
	logger *slog.Logger
}

type cachedResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	BodyHash    string `json:"body_hash"`
}

func NewIdempotencyMiddleware(redisClient *redis.Client, logger *slog.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{redis: redisClient, logger: logger}
}

// capturingWriter records the response for replay.
type capturingWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *capturingWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *capturingWriter) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

func (m *IdempotencyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if m.redis == nil || r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			utils.BadRequest(w, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		bodyHash := hashRequest(r.URL.Path, body)
		cacheKey := idempotencyPrefix + key
		ctx := r.Context()

		cached, err := m.lookup(ctx, cacheKey)
		switch {
		case err != nil:
			m.logger.Warn("idempotency lookup failed", "error", err)
			next.ServeHTTP(w, r)
			return
		case cached != nil && cached.BodyHash != bodyHash:
			utils.Error(w, apperrors.IdempotencyConflict())
			return
		case cached != nil:
			w.Header().Set("Content-Type", cached.ContentType)
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			w.Write(cached.Body)
			return
		}

		lockKey := cacheKey + ":lock"
		locked, err := m.redis.SetNX(ctx, lockKey, "1", idempotencyLock).Result()
		if err != nil || !locked {
			utils.Error(w, apperrors.IdempotencyConflict())
			return
		}
		defer m.redis.Del(context.WithoutCancel(ctx), lockKey)

		rw := &capturingWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		// Guard failures are answers too: replaying them keeps a retry from
		// seeing a different outcome than the original.
		if rw.statusCode >= http.StatusInternalServerError {
			return
		}
		data, _ := json.Marshal(cachedResponse{
			StatusCode:  rw.statusCode,
			ContentType: rw.Header().Get("Content-Type"),
			Body:        rw.body.Bytes(),
			BodyHash:    bodyHash,
		})
		if err := m.redis.Set(context.WithoutCancel(ctx), cacheKey, data, idempotencyTTL).Err(); err != nil {
			m.logger.Warn("idempotency store failed", "error", err)
		}
	})
}

// lookup returns nil, nil when the key has not been seen.
func (m *IdempotencyMiddleware) lookup(ctx context.Context, key string) (*cachedResponse, error) {
	data, err := m.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cached cachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

func hashRequest(path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
