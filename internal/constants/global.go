package constants

const AppName = "sluice"

// client <-> proxy protocol headers
const (
	ProtocolRequestIDKey   = "X-Request-ID"
	ProtocolCacheStatusKey = "X-Cache"

	InternalTraceKey = "i-xtrace"
	InternalStoreUrl = "i-x-store-url"
)
