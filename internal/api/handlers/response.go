package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := map[string]any{"error": msg}
	if err != nil {
		body["message"] = err.Error()
	}
	writeJSON(w, status, body)
}

// decodeBody reads a JSON request body into v and validates it.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return validate.Struct(v)
}

func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}

	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// parseFloatParam returns ok=false when the parameter is present but not a number
func parseFloatParam(r *http.Request, name string, defaultVal float64) (float64, bool) {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal, true
	}
	val, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}

func parseBoolParam(r *http.Request, name string) bool {
	val, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return val
}
