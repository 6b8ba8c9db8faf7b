package util

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// MaxRequestBody caps the JSON bodies accepted by the API.
const MaxRequestBody = 1 << 20

// DecodeJSONBody reads at most MaxRequestBody bytes of the request body into a T. A larger
// body fails with an error wrapping *http.MaxBytesError.
func DecodeJSONBody[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var data T
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBody))
	if err != nil {
		return data, fmt.Errorf("read body error: %w", err)
	}
	if err := json.Unmarshal(body, &data); err != nil {
		var zero T
		return zero, fmt.Errorf("json unmarshal error: %w", err)
	}
	return data, nil
}

func WriteJSONResponse[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
