package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/supportdesk-payments/internal/auth"
	"github.com/josh-kwaku/supportdesk-payments/internal/handler"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/repository"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "X-Idempotent-Replayed"
	maxIdempotencyKey = 255
	idempotencyTTL    = 24 * time.Hour
)

type idempotencyRepository interface {
	Get(ctx context.Context, key string, userID uuid.UUID) (*repository.IdempotencyCacheEntry, error)
	Set(ctx context.Context, entry *repository.IdempotencyCacheEntry) error
}

// keyLocks serialises requests that share a caller and key within this
// process, so a double-clicked submit runs the handler once and replays the
// second.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	waiters int
}

func (k *keyLocks) lock(id string) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyLock{}
		k.locks[id] = l
	}
	l.waiters++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// Idempotency replays the stored response when a caller retries a write with
// the same Idempotency-Key. Requests without the header pass through. Server
// errors are not stored so the retry runs again.
func Idempotency(repo idempotencyRepository, maxBody int64) func(http.Handler) http.Handler {
	inflight := &keyLocks{locks: make(map[string]*keyLock)}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKey {
				handler.RespondAppError(w, handler.ErrIdempotencyKeyTooLong, nil)
				return
			}

			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			ctx := logging.With(r.Context(), "idempotency_key", key)
			log := logging.FromContext(ctx)

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			if err != nil {
				handler.RespondAppError(w, handler.ErrProofTooLarge, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := requestFingerprint(r, body)

			unlock := inflight.lock(userID.String() + "\x00" + key)
			defer unlock()

			cached, err := repo.Get(ctx, key, userID)
			if err != nil {
				log.Error("idempotency lookup failed", "error", err)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}
			if cached != nil {
				if cached.RequestHash != fingerprint {
					handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
					return
				}
				log.Info("idempotent replay", "status", cached.StatusCode)
				replay(w, cached)
				return
			}

			rec := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status >= http.StatusInternalServerError {
				return
			}

			now := time.Now().UTC()
			if err := repo.Set(ctx, &repository.IdempotencyCacheEntry{
				Key:          key,
				UserID:       userID,
				Method:       r.Method,
				Path:         r.URL.Path,
				RequestHash:  fingerprint,
				StatusCode:   rec.status,
				ResponseBody: rec.body.Bytes(),
				CreatedAt:    now,
				ExpiresAt:    now.Add(idempotencyTTL),
			}); err != nil {
				log.Error("idempotency store failed", "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, e *repository.IdempotencyCacheEntry) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(e.StatusCode)
	_, _ = w.Write(e.ResponseBody)
}

// requestFingerprint covers the route and the exact body, so reusing a key for
// a different payment is detected.
func requestFingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	io.WriteString(h, r.Method)
	io.WriteString(h, "\x00")
	io.WriteString(h, r.URL.Path)
	io.WriteString(h, "\x00")
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *capturingWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
