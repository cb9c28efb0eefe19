package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/stockcart/internal/service/availability"
)

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := s.carts.GetCart(r.Context(), principalFrom(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

// addCartItem не проверяет остаток: корзина хранит желание, а не резерв.
func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.carts.AddItem(r.Context(), principalFrom(r.Context()).UserID, req.ProductID, req.Quantity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := s.carts.RemoveItem(r.Context(), principalFrom(r.Context()).UserID, chi.URLParam(r, "itemID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := s.carts.Clear(r.Context(), principalFrom(r.Context()).UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cartAvailability — подсказка для UI. Ответ не гарантирует успешное оформление.
func (s *Server) cartAvailability(w http.ResponseWriter, r *http.Request) {
	verdicts, err := s.availability.Advise(r.Context(), principalFrom(r.Context()).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		Placeable: len(verdicts) > 0 && len(availability.Failing(verdicts)) == 0,
		Lines:     toVerdictResponses(verdicts),
	})
}
