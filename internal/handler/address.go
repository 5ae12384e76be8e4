package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/address"
)

func (h *Handler) listAddresses(w http.ResponseWriter, r *http.Request) {
	list, err := h.addresses.List(r.Context(), mustCustomer(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, a := range list {
			encodeAddress(e, a)
		}
		e.ArrEnd()
	})
}

func (h *Handler) addAddress(w http.ResponseWriter, r *http.Request) {
	var (
		t          address.Type
		f          address.Fields
		setDefault bool
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "type":
			v, err := d.Str()
			t = address.Type(v)
			return err
		case "default":
			v, err := d.Bool()
			setDefault = v
			return err
		default:
			return decodeField(d, key, &f)
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	a, err := h.addresses.Add(r.Context(), mustCustomer(r).ID, t, f, setDefault)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeAddress(e, *a)
	})
}

func (h *Handler) setDefaultAddress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.addresses.SetDefault(r.Context(), mustCustomer(r).ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeAddress(e, *a)
	})
}
