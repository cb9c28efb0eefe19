package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// placeOrder оформляет корзину пользователя. С заголовком Idempotency-Key
// повтор запроса отдаёт сохранённый ответ вместо нового оформления.
func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	key, err := idempotencyKeyFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if key == "" || s.idempotency == nil {
		resp := s.runPlaceOrder(r)
		writeJSON(w, resp.status, resp.body)
		return
	}
	s.withIdempotency(w, r, key, s.runPlaceOrder)
}

func (s *Server) runPlaceOrder(r *http.Request) apiResponse {
	order, err := s.checkout.PlaceOrder(r.Context(), principalFrom(r.Context()).UserID)
	if err != nil {
		return s.errorResponse(r, err)
	}
	return apiResponse{status: http.StatusCreated, body: toOrderResponse(order)}
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.orders.ListOrders(r.Context(), principalFrom(r.Context()).UserID, page, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result, toOrderResponse))
}

// getOrder не различает "нет такого заказа" и "заказ другого пользователя".
func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.GetOrder(r.Context(), principalFrom(r.Context()).UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}
