package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

const (
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"

	maxIdempotencyKeyLen    = 255
	idempotencyStoreTimeout = 2 * time.Second
)

func idempotencyKeyFrom(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		return "", fmt.Errorf("%w: %s must not exceed %d characters", domain.ErrInvalidArgument, HeaderIdempotencyKey, maxIdempotencyKeyLen)
	}
	return key, nil
}

// withIdempotency занимает ключ, выполняет handler и сохраняет ответ.
// Ключ живёт в пределах пользователя. Ответы 5xx не сохраняются: ключ
// освобождается, и клиент может повторить запрос с тем же ключом.
func (s *Server) withIdempotency(w http.ResponseWriter, r *http.Request, key string, handler func(*http.Request) apiResponse) {
	userID := principalFrom(r.Context()).UserID
	scoped := domain.ScopedIdempotencyKey(userID, key)

	hash, err := requestHash(w, r, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	record, err := s.idempotency.CreateProcessing(r.Context(), scoped, hash, s.now().Add(s.idempotencyTTL))
	if err != nil {
		s.replayIdempotent(w, r, err, record)
		return
	}

	resp := handler(r)
	s.storeIdempotent(r.Context(), scoped, resp)
	writeJSON(w, resp.status, resp.body)
}

func (s *Server) replayIdempotent(w http.ResponseWriter, r *http.Request, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeJSON(w, http.StatusConflict, errorBody{
			Error:   "idempotency_key_reused",
			Message: "idempotency key is already used with a different request",
		})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status == domain.IdempotencyStatusProcessing {
			writeJSON(w, http.StatusConflict, errorBody{
				Error:   "idempotency_in_progress",
				Message: "request with the same idempotency key is already processing",
			})
			return
		}
		if !record.Replayable() || len(record.ResponseBody) == 0 {
			s.logger.WithField("idempotency_key", record.Key).Warn("idempotency record has no cached response")
			writeJSON(w, http.StatusInternalServerError, errorBody{
				Error:   "internal_error",
				Message: "idempotency cache is empty",
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(HeaderIdempotentReplayed, "true")
		w.WriteHeader(record.HTTPStatus)
		_, _ = w.Write(record.ResponseBody)
	default:
		s.writeError(w, r, createErr)
	}
}

// storeIdempotent пишет ответ даже если клиент уже отключился.
func (s *Server) storeIdempotent(ctx context.Context, key string, resp apiResponse) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyStoreTimeout)
	defer cancel()
	logger := s.logger.WithField("idempotency_key", key)

	if releasable(resp) {
		if err := s.idempotency.Release(ctx, key); err != nil {
			logger.WithError(err).Warn("failed to release idempotency key")
		}
		return
	}

	data, err := json.Marshal(resp.body)
	if err != nil {
		logger.WithError(err).Warn("failed to encode idempotent response")
		if err := s.idempotency.Release(ctx, key); err != nil {
			logger.WithError(err).Warn("failed to release idempotency key")
		}
		return
	}

	store := s.idempotency.MarkDone
	if resp.status >= http.StatusBadRequest {
		store = s.idempotency.MarkFailed
	}
	if err := store(ctx, key, data, resp.status); err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}
}

// releasable: 5xx и stock_conflict зависят от текущего состояния склада,
// поэтому повтор с тем же ключом выполняется заново, а не воспроизводится.
func releasable(resp apiResponse) bool {
	if resp.status >= http.StatusInternalServerError {
		return true
	}
	body, ok := resp.body.(errorBody)
	return ok && resp.status == http.StatusConflict && body.Error == "stock_conflict"
}

func requestHash(w http.ResponseWriter, r *http.Request, userID string) (string, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", domain.ErrInvalidArgument, err)
	}

	payload := make([]byte, 0, len(r.Method)+len(r.URL.Path)+len(userID)+len(body)+3)
	payload = append(payload, r.Method...)
	payload = append(payload, ' ')
	payload = append(payload, r.URL.Path...)
	payload = append(payload, ':')
	payload = append(payload, userID...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
