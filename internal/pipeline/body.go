package pipeline

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aofei/mimesniffer"

	"github.com/kiln-framework/kiln/internal/httperror"
)

var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// parseBody reads and parses the request body: only attempted for
// POST/PUT/PATCH/DELETE, rejected over maxBodySize, dispatched by
// content type. The result is memoized by the caller (Context.Body).
func parseBody(r *http.Request, maxBodySize int64) (interface{}, error) {
	if !bodyMethods[r.Method] {
		return nil, nil
	}
	if r.Body == nil {
		return nil, nil
	}

	if r.ContentLength > 0 && maxBodySize > 0 && r.ContentLength > maxBodySize {
		return nil, httperror.New(httperror.PayloadTooLarge, "request body exceeds the configured maximum size")
	}

	limit := maxBodySize
	if limit <= 0 {
		limit = 1 << 62
	}

	limited := io.LimitReader(r.Body, limit+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, httperror.New(httperror.PayloadTooLarge, "request body exceeds the configured maximum size")
	}
	if len(b) == 0 {
		return nil, nil
	}

	contentType := r.Header.Get("Content-Type")
	mediaType := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if mediaType == "" {
		mediaType = mimesniffer.Sniff(b)
	}

	switch {
	case mediaType == "application/json":
		var v interface{}
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, httperror.New(httperror.BadRequest, "malformed JSON body")
		}
		return v, nil
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(b))
		if err != nil {
			return nil, httperror.New(httperror.BadRequest, "malformed form body")
		}
		flat := make(map[string]string, len(values))
		for k, vs := range values {
			if len(vs) > 0 {
				flat[k] = vs[0]
			}
		}
		return flat, nil
	case strings.HasPrefix(mediaType, "text/"):
		return string(b), nil
	default:
		return b, nil
	}
}
