package circuitbreaker

import "time"

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int

	// Timeout is how long an open circuit rejects calls before allowing
	// a half-open probe.
	Timeout time.Duration

	// OnStateChange is called after every state transition.
	OnStateChange func(target string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
	}
}

// Validate fills in defaults for unset fields.
func (c *Config) Validate() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}
