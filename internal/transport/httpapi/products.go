package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/stockcart/internal/service/catalog"
)

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.catalog.ListProducts(r.Context(), r.URL.Query().Get("search"), page, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(result, toProductResponse))
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.catalog.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	product, err := s.catalog.CreateProduct(r.Context(), principalFrom(r.Context()), catalog.ProductInput{
		ID:         req.ID,
		Name:       req.Name,
		PriceMinor: req.PriceMinor,
		Currency:   req.Currency,
		Quantity:   req.Quantity,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

// updateProduct меняет название и цену; quantity в теле игнорируется.
func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	product, err := s.catalog.UpdateProduct(r.Context(), principalFrom(r.Context()), catalog.ProductInput{
		ID:         chi.URLParam(r, "productID"),
		Name:       req.Name,
		PriceMinor: req.PriceMinor,
		Currency:   req.Currency,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (s *Server) restockProduct(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	product, err := s.catalog.Restock(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.DeleteProduct(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "productID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
