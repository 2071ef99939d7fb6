package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/schema"
	"github.com/mwestra/ballotbox/internal/errorz"
)

// mapper is a generic HTTP handler that maps requests to target
// function calls and writes the output to the response.
type mapper[IN, OUT any] struct {
	s      *Server
	status int
	req    func(*http.Request) (IN, error)
	target func(context.Context, IN) (OUT, error)
	res    func(result[IN, OUT]) error
}

// result is the result of a succesful request.
// it contains all relevant data because we can't know
// in advance what we will need to construct a response.
type result[IN, OUT any] struct {
	s   *Server
	r   *http.Request
	w   http.ResponseWriter
	in  IN
	out OUT
}

// mapBoth creates a HTTP Handler that:
// 1. Maps the request to a value of input type IN.
// 2. Calls the target func with that value.
// 3. Writes the output of type OUT to the response as JSON.
//
// Errors are written using the server error handler.
func mapBoth[IN, OUT any](s *Server, targetFunc func(context.Context, IN) (OUT, error)) *mapper[IN, OUT] {
	e := &mapper[IN, OUT]{
		s:      s,
		status: http.StatusOK,
		target: targetFunc,
	}
	e.req = func(r *http.Request) (IN, error) {
		return defaultRequest[IN](s, r)
	}
	e.res = func(r result[IN, OUT]) error {
		return s.writeJSON(r.w, e.status, r.out)
	}

	return e
}

// mapRequest creates a HTTP Handler that:
// 1. Maps the request to a value of type IN.
// 2. Calls the target func with that value.
// 3. Writes a status 204 response to the client if target func was successful.
//
// Errors are written using the server error handler.
func mapRequest[IN any](s *Server, targetFunc func(context.Context, IN) error) *mapper[IN, struct{}] {
	e := &mapper[IN, struct{}]{
		s:      s,
		status: http.StatusNoContent,
		target: func(ctx context.Context, in IN) (struct{}, error) {
			return struct{}{}, targetFunc(ctx, in)
		},
	}
	e.req = func(r *http.Request) (IN, error) {
		return defaultRequest[IN](s, r)
	}
	e.res = func(r result[IN, struct{}]) error {
		r.w.WriteHeader(e.status)
		return nil
	}

	return e
}

// mapResponse creates a HTTP Handler that:
// 1. Calls the target func.
// 2. Maps the returned value of type OUT to the response as JSON.
//
// Errors are written using the server error handler.
func mapResponse[OUT any](s *Server, targetFunc func(context.Context) (OUT, error)) *mapper[struct{}, OUT] {
	e := &mapper[struct{}, OUT]{
		s:      s,
		status: http.StatusOK,
		target: func(ctx context.Context, _ struct{}) (OUT, error) {
			return targetFunc(ctx)
		},
	}
	e.req = func(r *http.Request) (struct{}, error) {
		return struct{}{}, nil
	}
	e.res = func(r result[struct{}, OUT]) error {
		return s.writeJSON(r.w, e.status, r.out)
	}

	return e
}

// request overwrites the function that maps the request to the input type.
func (e *mapper[IN, OUT]) request(fn func(r *http.Request) (IN, error)) *mapper[IN, OUT] {
	e.req = fn
	return e
}

// response overwrites the function that writes the output to the response.
func (e *mapper[IN, OUT]) response(fn func(result[IN, OUT]) error) *mapper[IN, OUT] {
	e.res = fn
	return e
}

// withStatus overwrites the status code written on success.
func (e *mapper[IN, OUT]) withStatus(status int) *mapper[IN, OUT] {
	e.status = status
	return e
}

func (e *mapper[IN, OUT]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	in, err := e.req(r)
	if err != nil {
		e.s.handleError(w, r, err)
		return
	}

	out, err := e.target(r.Context(), in)
	if err != nil {
		e.s.handleError(w, r, err)
		return
	}

	result := result[IN, OUT]{
		s:   e.s,
		r:   r,
		w:   w,
		in:  in,
		out: out,
	}

	err = e.res(result)
	if err != nil {
		e.s.handleError(w, r, err)
		return
	}
}

// defaultRequest is the default way to map a request to a struct.
// Requests without a body are decoded from the query string, all
// others from a JSON body.
func defaultRequest[IN any](s *Server, r *http.Request) (IN, error) {
	var in IN

	if r.Method == http.MethodGet || r.Method == http.MethodDelete {
		err := s.decoder.Decode(&in, r.URL.Query())
		return in, decodeError(err)
	}

	err := json.NewDecoder(r.Body).Decode(&in)
	if err != nil {
		return in, errorz.InvalidInput{errorz.Keyed{Key: "body", Err: err}}
	}

	return in, nil
}

// decodeError converts schema decoder errors to client errors.
func decodeError(err error) error {
	if err == nil {
		return nil
	}

	var multiErr schema.MultiError
	if errors.As(err, &multiErr) {
		var invalidInput errorz.InvalidInput
		for key, e := range multiErr {
			invalidInput = append(invalidInput, errorz.Keyed{
				Key: key,
				Err: e,
			})
		}

		return invalidInput
	}

	return err
}
