package models

// Key derivation parameters for at-rest field encryption.
const (
	KeySize    = 32 // AES-256
	Iterations = 100000
)
