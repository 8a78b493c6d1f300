package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const MovingExpirationHeader = "X-Moving-Expiration-Date"

// MaxJSONBodyBytes caps request bodies decoded by ReadJSON.
const MaxJSONBodyBytes = 2 << 20

var ErrEmptyBody = errors.New("empty body")

func WriteJSON(w http.ResponseWriter, status int, body any) {
	body = withMovingExpiration(body, w.Header().Get(MovingExpirationHeader))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}

// WriteValidation answers 400 with per-field reasons.
func WriteValidation(w http.ResponseWriter, fields map[string]string) {
	WriteJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"message": "Datos invalidos",
		"errors":  fields,
	})
}

// ReadJSON decodes a single JSON value from the request body. Numbers are kept
// as json.Number so callers can coerce them without float rounding.
func ReadJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return ErrEmptyBody
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxJSONBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return errors.New("decode json: trailing data")
	}
	return nil
}

func withMovingExpiration(body any, movingExpiration string) any {
	movingExpiration = strings.TrimSpace(movingExpiration)
	if movingExpiration == "" {
		return body
	}

	payload, ok := body.(map[string]any)
	if !ok || payload == nil {
		return body
	}
	if _, exists := payload["moving_expiration_date"]; exists {
		return body
	}

	clone := make(map[string]any, len(payload)+1)
	for key, value := range payload {
		clone[key] = value
	}
	clone["moving_expiration_date"] = movingExpiration
	return clone
}
