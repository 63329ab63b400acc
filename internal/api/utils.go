package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"mlops-pipeline/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/schema"
)

const maxRequestBytes = 1 << 20

var queryDecoder = schema.NewDecoder()

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(code int, err error) error {
	return &codedError{err: err, code: code}
}

func CodedErrorf(code int, format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...), code: code}
}

// ParseRequest decodes a JSON body of at most 1MiB into T. Unknown fields are
// rejected.
func ParseRequest[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var data T
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&data); err != nil {
		slog.Warn("error parsing request body", "path", r.URL.Path, "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request body: %v", err)
	}
	return data, nil
}

func ParseRequestQueryParams[T any](r *http.Request) (T, error) {
	var data T
	if err := queryDecoder.Decode(&data, r.URL.Query()); err != nil {
		slog.Warn("error decoding query params", "path", r.URL.Path, "error", err)
		return data, CodedErrorf(http.StatusBadRequest, "unable to parse request query params: %v", err)
	}
	return data, nil
}

// Endpoint handles a request and returns the value to encode as the JSON
// response. Errors created with CodedError choose the status code.
type Endpoint func(w http.ResponseWriter, r *http.Request) (any, error)

func RestHandler(handler Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := handler(w, r)
		if err != nil {
			code := http.StatusInternalServerError
			var cerr *codedError
			if errors.As(err, &cerr) {
				code = cerr.code
			}
			if code >= http.StatusInternalServerError {
				slog.Error("internal server error", "path", r.URL.Path, "error", err)
			}
			writeJson(w, code, api.ErrorResponse{Error: err.Error()})
			return
		}

		if res == nil {
			res = struct{}{}
		}
		writeJson(w, http.StatusOK, res)
	}
}

func writeJson(w http.ResponseWriter, code int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
		http.Error(w, fmt.Sprintf("error serializing response body: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(append(body, '\n')) //nolint:errcheck
}

func URLParamUUID(r *http.Request, key string) (uuid.UUID, error) {
	param := chi.URLParam(r, key)
	if param == "" {
		return uuid.Nil, CodedErrorf(http.StatusBadRequest, "missing {%v} url parameter", key)
	}

	id, err := uuid.Parse(param)
	if err != nil {
		return uuid.Nil, CodedErrorf(http.StatusBadRequest, "invalid uuid '%v' url parameter provided: %w", key, err)
	}
	return id, nil
}

var triggerPattern = regexp.MustCompile(`^[\w-]{1,20}$`)

func validateTrigger(trigger string) error {
	if !triggerPattern.MatchString(trigger) {
		return CodedErrorf(http.StatusBadRequest, "invalid trigger '%s': only up to 20 alphanumeric characters, underscores, and hyphens are allowed", trigger)
	}
	return nil
}
