package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockcart/internal/domain"
)

const maxBodyBytes = 1 << 20

// apiResponse — готовый к отправке ответ; нужен, чтобы сохранить его
// под Idempotency-Key до записи в сокет.
type apiResponse struct {
	status int
	body   any
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := s.errorResponse(r, err)
	writeJSON(w, resp.status, resp.body)
}

// errorResponse переводит доменную ошибку в HTTP-статус и код ответа.
func (s *Server) errorResponse(r *http.Request, err error) apiResponse {
	if conflict, ok := domain.AsStockConflict(err); ok {
		return apiResponse{status: http.StatusConflict, body: errorBody{
			Error:   "stock_conflict",
			Message: "insufficient stock for one or more cart lines",
			Lines:   toVerdictResponses(conflict.Lines),
		}}
	}

	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		status, code = http.StatusUnprocessableEntity, "empty_cart"
	case errors.Is(err, domain.ErrInvalidQuantity):
		status, code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUserRequired):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrProductAlreadyExists):
		status, code = http.StatusConflict, "already_exists"
	case domain.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	case domain.IsTransient(err):
		status, code = http.StatusServiceUnavailable, "ledger_unavailable"
	case errors.Is(err, context.Canceled):
		status, code = http.StatusServiceUnavailable, "canceled"
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("unhandled error")
		message = "internal server error"
	}
	return apiResponse{status: status, body: errorBody{Error: code, Message: message}}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// pageParams читает page и size из query; пустые значения заменяются дефолтами сервиса.
func pageParams(r *http.Request) (int, int, error) {
	page, err := intParam(r, "page")
	if err != nil {
		return 0, 0, err
	}
	size, err := intParam(r, "size")
	if err != nil {
		return 0, 0, err
	}
	return page, size, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidArgument, name)
	}
	return value, nil
}
