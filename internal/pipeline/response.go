package pipeline

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrAfterDone is returned by every Response mutator once the response
// has been marked done: once set, all subsequent mutations fail fast.
var ErrAfterDone = fmt.Errorf("pipeline: response already done")

// Response is the per-request response counterpart of Context, wrapping
// the underlying http.ResponseWriter with a done-flag discipline.
type Response struct {
	w      http.ResponseWriter
	status int
	done   bool
}

func newResponse(w http.ResponseWriter) *Response {
	return &Response{w: w, status: http.StatusOK}
}

// Done reports whether the response has already been finalized.
func (r *Response) Done() bool { return r.done }

// MarkDone finalizes the response without writing anything further. Safe
// to call more than once.
func (r *Response) MarkDone() { r.done = true }

// SetStatus sets the status code for the eventual response. code must be
// in [100,599].
func (r *Response) SetStatus(code int) error {
	if r.done {
		return ErrAfterDone
	}
	if code < 100 || code > 599 {
		return fmt.Errorf("pipeline: invalid status %d", code)
	}
	r.status = code
	return nil
}

// Status returns the currently set status code.
func (r *Response) Status() int { return r.status }

// SetHeader sets a response header. Fails fast once the response is done.
func (r *Response) SetHeader(key, value string) error {
	if r.done {
		return ErrAfterDone
	}
	r.w.Header().Set(key, value)
	return nil
}

// JSON serializes v as `application/json; charset=utf-8` and marks the
// response done.
func (r *Response) JSON(v interface{}) error {
	if r.done {
		return ErrAfterDone
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	r.w.WriteHeader(r.status)
	_, err = r.w.Write(b)
	r.done = true
	return err
}

// Send dispatches by v's runtime type: []byte becomes
// application/octet-stream if unset, string becomes text/plain if
// unset, anything else delegates to JSON.
func (r *Response) Send(v interface{}) error {
	if r.done {
		return ErrAfterDone
	}
	switch vv := v.(type) {
	case []byte:
		if r.w.Header().Get("Content-Type") == "" {
			r.w.Header().Set("Content-Type", "application/octet-stream")
		}
		r.w.WriteHeader(r.status)
		_, err := r.w.Write(vv)
		r.done = true
		return err
	case string:
		if r.w.Header().Get("Content-Type") == "" {
			r.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		r.w.WriteHeader(r.status)
		_, err := r.w.Write([]byte(vv))
		r.done = true
		return err
	default:
		return r.JSON(v)
	}
}

// HTTPResponseWriter exposes the underlying http.ResponseWriter, for
// middleware that needs to wrap it (gzip, WrapHTTPMiddleware).
func (r *Response) HTTPResponseWriter() http.ResponseWriter { return r.w }

// SetHTTPResponseWriter replaces the underlying http.ResponseWriter.
// Used by middleware that wraps the writer (e.g. to compress the body)
// before the handler runs.
func (r *Response) SetHTTPResponseWriter(w http.ResponseWriter) { r.w = w }

// Redirect sets Location and ends the response with status (default 302).
func (r *Response) Redirect(location string, status ...int) error {
	if r.done {
		return ErrAfterDone
	}
	code := http.StatusFound
	if len(status) > 0 {
		code = status[0]
	}
	r.w.Header().Set("Location", location)
	r.w.WriteHeader(code)
	r.status = code
	r.done = true
	return nil
}
