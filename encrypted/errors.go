package encrypted

// CryptoFailureError is returned for every cryptographic failure: bad keys, corrupted ciphertext, failed authentication.
// No partial plaintext accompanies it.
type CryptoFailureError struct{}

func (e CryptoFailureError) Error() string {
	return "CryptoFailureError"
}

type BadKeyError struct{}

func (e BadKeyError) Error() string {
	return "BadKeyError"
}
