package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// badRequestError is a malformed request, reported as 400.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// decodeObject decodes a JSON object body, calling fn for each field.
func decodeObject(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := jx.Decode(body, 0).Obj(fn); err != nil {
		var br *badRequestError
		if errors.As(err, &br) {
			return br
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return badRequest("request body must be a JSON object")
		}
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

// decodeInt64 accepts a JSON number or a numeric string.
func decodeInt64(d *jx.Decoder) (int64, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, badRequest("invalid number %q", s)
		}
		return v, nil
	}
	return d.Int64()
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

// money writes a decimal as a JSON number with two fraction digits.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}
