package httputil

const (
	PublicClientPathPrefix = "/_matrix/client/"
	PublicStaticPath       = "/_matrix/static/"
	HalcyonAdminPathPrefix = "/_halcyon/"
)
