// Package transform applies pure request rewrites and response merging.
// All functions leave their inputs untouched and return new values.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Rules describes the rewrites applied to a request before forwarding.
type Rules struct {
	// RenameHeaders maps original header names to forwarded names.
	// Lookup is case-insensitive on the original name.
	RenameHeaders map[string]string

	// RenameFields maps top-level JSON body field names to new names.
	RenameFields map[string]string

	// PathPrefix is prepended to the request path.
	PathPrefix string
}

// Empty reports whether the rules perform no rewrites.
func (r *Rules) Empty() bool {
	return r == nil ||
		(len(r.RenameHeaders) == 0 && len(r.RenameFields) == 0 && r.PathPrefix == "")
}

// ApplyHeaders returns a copy of headers with the configured renames
// applied. A rename whose source header is absent is a no-op.
func (r *Rules) ApplyHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		out[name] = value
	}
	if r == nil || len(r.RenameHeaders) == 0 {
		return out
	}

	for from, to := range r.RenameHeaders {
		for name, value := range headers {
			if strings.EqualFold(name, from) {
				delete(out, name)
				out[to] = value
				break
			}
		}
	}
	return out
}

// ApplyBody returns the body with top-level JSON fields renamed. A body
// that is empty or not a JSON object passes through unchanged.
func (r *Rules) ApplyBody(body []byte) ([]byte, error) {
	if r == nil || len(r.RenameFields) == 0 || len(body) == 0 {
		return body, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return body, nil
	}

	changed := false
	for from, to := range r.RenameFields {
		value, ok := fields[from]
		if !ok {
			continue
		}
		delete(fields, from)
		fields[to] = value
		changed = true
	}
	if !changed {
		return body, nil
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transformed body: %w", err)
	}
	return out, nil
}

// ApplyPath prepends the configured prefix to the path.
func (r *Rules) ApplyPath(path string) string {
	if r == nil || r.PathPrefix == "" {
		return path
	}

	prefix := strings.TrimSuffix(r.PathPrefix, "/")
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return prefix + path
}
