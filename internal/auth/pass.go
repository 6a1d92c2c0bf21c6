package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const passAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// PassIssuer issues one-time connection passes used to authenticate
// websocket upgrades. Uniqueness is probabilistic: the alphabet and
// length make a collision between concurrently active passes negligible.
type PassIssuer struct {
	length int
}

// NewPassIssuer constructs an issuer producing passes of the given length.
func NewPassIssuer(length int) *PassIssuer {
	return &PassIssuer{length: length}
}

// IssuePass generates a cryptographically random alphanumeric token.
// Storing the token is the directory's responsibility.
func (p *PassIssuer) IssuePass() (string, error) {
	pass := make([]byte, p.length)
	max := big.NewInt(int64(len(passAlphabet)))
	for i := range pass {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("issue pass: %w", err)
		}
		pass[i] = passAlphabet[n.Int64()]
	}
	return string(pass), nil
}
