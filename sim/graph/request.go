package graph

import (
	"net/url"
	"strings"
)

// ResourceType mirrors the browser's resource classification of a fetch.
type ResourceType string

const (
	ResourceDocument   ResourceType = "Document"
	ResourceStylesheet ResourceType = "Stylesheet"
	ResourceImage      ResourceType = "Image"
	ResourceMedia      ResourceType = "Media"
	ResourceFont       ResourceType = "Font"
	ResourceScript     ResourceType = "Script"
	ResourceXHR        ResourceType = "XHR"
	ResourceFetch      ResourceType = "Fetch"
	ResourceOther      ResourceType = "Other"
)

// Priority is the browser-assigned fetch priority.
type Priority string

const (
	PriorityVeryLow  Priority = "VeryLow"
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityVeryHigh Priority = "VeryHigh"
)

// nonNetworkSchemes are served without touching the network stack.
var nonNetworkSchemes = map[string]bool{
	"blob":             true,
	"data":             true,
	"intent":           true,
	"file":             true,
	"filesystem":       true,
	"chrome-extension": true,
	"about":            true,
}

// NetworkRequest is the fetch record a network node wraps.
// Times are in milliseconds; TransferSize is in bytes.
type NetworkRequest struct {
	RequestID     string
	URL           string
	InitiatorType string

	StartTime float64 // observed renderer start
	EndTime   float64 // observed network end

	ResourceType ResourceType
	Priority     Priority
	TransferSize int64

	FromDiskCache     bool
	FromMemoryCache   bool
	FromPrefetchCache bool

	// Redirect links are request IDs, never pointers. Redirects is the ordered
	// chain of requests that redirected to this one, oldest first.
	RedirectSource      string
	RedirectDestination string
	Redirects           []string
}

// Scheme returns the lower-cased URL scheme, or "" when the URL does not parse.
func (r *NetworkRequest) Scheme() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Origin returns the scheme+host the request is grouped under.
func (r *NetworkRequest) Origin() string {
	return OriginOf(r.URL)
}

// IsNonNetworkRequest reports whether the URL scheme bypasses the network.
func (r *NetworkRequest) IsNonNetworkRequest() bool {
	return nonNetworkSchemes[r.Scheme()]
}

// IsSecure reports whether a connection to this request's origin needs a TLS handshake.
func (r *NetworkRequest) IsSecure() bool {
	switch r.Scheme() {
	case "https", "wss":
		return true
	}
	return false
}

// OriginOf returns "scheme://host[:port]" for network URLs. Non-network URLs
// collapse to their scheme pseudo-origin (e.g. "data:"), which never starts
// with "http" and so never reaches an exported snapshot.
func OriginOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return rawURL
	}
	scheme := strings.ToLower(u.Scheme)
	if nonNetworkSchemes[scheme] || u.Host == "" {
		return scheme + ":"
	}
	return scheme + "://" + strings.ToLower(u.Host)
}

func (r *NetworkRequest) clone() *NetworkRequest {
	c := *r
	if r.Redirects != nil {
		c.Redirects = append([]string(nil), r.Redirects...)
	}
	return &c
}
