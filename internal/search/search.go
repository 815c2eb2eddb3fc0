// Package search is the guest directory: a Meilisearch index of each host's
// guests, with the store's own name search as fallback.
package search

// Result is a single guest hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	HostID    string `json:"hostId"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Returning bool   `json:"returning"`
	// Highlight is the name with matched terms wrapped in <mark>.
	Highlight string `json:"highlight,omitempty"`
}

// Query describes a search request. HostID is required; results never
// cross hosts.
type Query struct {
	HostID string
	Text   string
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// GuestRecord is the data we index for a guest.
type GuestRecord struct {
	ID        string `json:"id"`
	HostID    string `json:"hostId"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Returning bool   `json:"returning"`
}

const defaultLimit = 20
