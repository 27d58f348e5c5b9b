package ports

// CookieCodec converts between the bearer token and the session cookie value
type CookieCodec interface {
	Encode(token string, address string) (string, error)
	Decode(value string) (string, error)
}
