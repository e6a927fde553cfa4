package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/apexgw/apexgw/internal/pipeline"
	"github.com/apexgw/apexgw/internal/util"
)

// errorBody is the JSON error envelope returned to callers.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusFor maps an error kind to the HTTP status returned to callers.
func StatusFor(kind util.Kind) int {
	switch kind {
	case util.KindRouteNotFound:
		return http.StatusNotFound
	case util.KindUnauthenticated:
		return http.StatusUnauthorized
	case util.KindForbidden:
		return http.StatusForbidden
	case util.KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case util.KindServiceUnavailable,
		util.KindPoolExhausted,
		util.KindDiscoveryUnavailable,
		util.KindNoAvailableInstance:
		return http.StatusServiceUnavailable
	case util.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse renders an error as a JSON response. Internal errors hide
// their message from the caller.
func errorResponse(requestID string, err error) *pipeline.Response {
	kind := util.KindOf(err)

	message := err.Error()
	if kind == util.KindInternal {
		message = "internal error"
	}

	body, marshalErr := json.Marshal(errorBody{
		Error: errorDetail{
			Kind:      string(kind),
			Message:   message,
			RequestID: requestID,
		},
	})
	if marshalErr != nil {
		body = []byte(`{"error":{"kind":"internal","message":"internal error"}}`)
	}

	return &pipeline.Response{
		StatusCode: StatusFor(kind),
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}
