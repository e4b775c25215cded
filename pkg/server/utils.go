package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// httpErrorFunc is a handler that may fail; handleError turns the failure
// into the right status code and an {"error": ...} body.
type httpErrorFunc func(res http.ResponseWriter, req *http.Request) error

func handleError(handler httpErrorFunc) http.HandlerFunc {
	return func(res http.ResponseWriter, req *http.Request) {
		if err := handler(res, req); err != nil {
			writeError(res, req, err)
		}
	}
}

func writeError(res http.ResponseWriter, req *http.Request, err error) {
	code := tberrors.HTTPStatusCode(err)
	if code >= http.StatusInternalServerError {
		log.Ctx(req.Context()).Error().Err(err).Str("Path", req.URL.Path).Msg("request failed")
	} else {
		log.Ctx(req.Context()).Debug().Err(err).Str("Path", req.URL.Path).Msg("request rejected")
	}

	message := err.Error()
	if tberrors.KindOf(err) == tberrors.KindInternal {
		// untyped errors never leak internals to clients
		var typed *tberrors.Error
		if !errors.As(err, &typed) {
			message = "internal server error"
		}
	}

	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(code)
	_ = json.NewEncoder(res).Encode(map[string]string{"error": message})
}

// returnsJSON wraps a handler producing a value into one writing it out as
// JSON with the given status code.
func returnsJSON[T any](statusCode int, handler func(ctx context.Context, req *http.Request) (T, error)) httpErrorFunc {
	return func(res http.ResponseWriter, req *http.Request) error {
		result, err := handler(req.Context(), req)
		if err != nil {
			return err
		}
		res.Header().Set("Content-Type", "application/json")
		res.WriteHeader(statusCode)
		return json.NewEncoder(res).Encode(result)
	}
}

// getRequestBody decodes the JSON request body, rejecting malformed input as
// invalid rather than internal.
func getRequestBody[T any](req *http.Request) (*T, error) {
	var body T
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return nil, tberrors.Wrap(err, tberrors.KindInvalidInput, "cannot decode request body")
	}
	return &body, nil
}
