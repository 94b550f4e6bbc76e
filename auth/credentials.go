package auth

import (
	"errors"

	"github.com/awnumar/memguard"
)

// Credentials holds the account identifier and password for one identity.
// The password lives in a memguard Enclave (encrypted at rest in memory)
// and is only opened for the duration of a single encryption. Credentials
// are never logged and never submitted without fresh key material.
type Credentials struct {
	username string
	secret   *memguard.Enclave
}

// NewCredentials builds Credentials, moving the password into an enclave.
func NewCredentials(username, password string) (Credentials, error) {
	if username == "" {
		return Credentials{}, errors.New("username must not be empty")
	}
	if password == "" {
		return Credentials{}, errors.New("password must not be empty")
	}
	return Credentials{
		username: username,
		secret:   memguard.NewEnclave([]byte(password)),
	}, nil
}

// Username returns the account identifier.
func (c Credentials) Username() string { return c.username }

// withSecret opens the enclave, invokes fn with the plaintext password,
// and wipes the working buffer before returning.
func (c Credentials) withSecret(fn func(password string) error) error {
	buf, err := c.secret.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.String())
}
