package ratelimit

// Key builds the composite rate limit key from a client identifier and the
// matched route pattern. The client identifier is the authenticated subject
// when one exists, otherwise the request's source address.
func Key(clientID, routePattern string) string {
	return clientID + ":" + routePattern
}
