package postgres

import "errors"

var (
	// ErrNotFound is returned when a credential row does not exist.
	ErrNotFound = errors.New("adminauth/postgres: resource not found")
	// ErrSealerRequired is returned by factor methods on a store without a SecretSealer.
	ErrSealerRequired = errors.New("adminauth/postgres: secret sealer not configured")
)
