// Package encryption provides authenticated encryption for sensitive
// provider configuration values (API keys, secrets, tokens) persisted by
// the configuration store.
//
// Keys are derived from passphrases with SHA-256, producing 256-bit keys
// for either AES-256-GCM (default) or ChaCha20-Poly1305.
//
// # Usage
//
//	enc, err := encryption.New("my-secret-passphrase")
//	ciphertext, err := enc.Encrypt(plaintext)
//	plaintext, err := enc.Decrypt(ciphertext)
package encryption
