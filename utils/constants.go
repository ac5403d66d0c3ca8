package utils

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Document API limits
const (
	// DefaultPageSize is the page size of list requests without count
	DefaultPageSize = 30

	// MaxPageSize bounds count of a single list request; -1 disables pagination
	MaxPageSize = 1000

	// MaxBatchSize bounds the number of documents of one batch insert
	MaxBatchSize = 1000
)

// Request context keys
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserAgentKey contextKey = "user_agent"
	IPAddressKey contextKey = "ip_address"
	EndpointKey  contextKey = "endpoint"
	ActorKey     contextKey = "actor"
)
