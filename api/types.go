package api

// Authenticator is implemented by types able to resolve bearer credentials
// to user identities.
type Authenticator interface {
	UserIDFromBearer(token []byte) (string, error)
}
