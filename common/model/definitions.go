package model

import (
	"encoding/json"
	"time"
)

// If you want a helper for JSON unmarshal:
func JSONUnmarshal(data []byte, out interface{}) error {
	return json.Unmarshal(data, out)
}

// Item is one element of a paginated collection. ID is the element's "id"
// field rendered as text, empty when the element has none.
type Item struct {
	ID  string          `json:"id,omitempty"`
	Raw json.RawMessage `json:"raw"`
}

// FetchResult is what the command reports for each configured endpoint.
type FetchResult struct {
	Method   string        `json:"method"`
	Path     string        `json:"path"`
	UseCache bool          `json:"use_cache"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}
