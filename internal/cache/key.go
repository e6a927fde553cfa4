package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Key derives a deterministic cache key from the request method, path and
// the headers named in vary. Header names are matched case-insensitively
// and hashed in sorted order so equivalent requests share a key.
func Key(method, path string, headers map[string]string, vary []string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(path))

	if len(vary) > 0 {
		lowered := make(map[string]string, len(headers))
		for name, value := range headers {
			lowered[strings.ToLower(name)] = value
		}

		names := make([]string, 0, len(vary))
		for _, name := range vary {
			names = append(names, strings.ToLower(name))
		}
		sort.Strings(names)

		for _, name := range names {
			h.Write([]byte{0})
			h.Write([]byte(name))
			h.Write([]byte{'='})
			h.Write([]byte(lowered[name]))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}
