package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/product"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list products"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			h.encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.GetByID(r.Context(), id)
	h.writeProduct(w, r, p, err)
}

func (h *Handler) getProductBySlug(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	h.writeProduct(w, r, p, err)
}

func (h *Handler) writeProduct(w http.ResponseWriter, r *http.Request, p *product.Product, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeProduct(e, *p)
	})
}
