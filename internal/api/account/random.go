package account

import (
	"crypto/rand"
	"math/big"
)

const (
	pinAlphabet      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	passwordAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz~!@-#$"

	pinLength      = 32
	passwordLength = 16
	sessionLength  = 32
)

func randomFrom(alphabet string, length int) string {
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing means the process has no entropy source.
			panic(err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}

// newPin returns a fresh verification pin.
func newPin() string {
	return randomFrom(pinAlphabet, pinLength)
}

// newGeneratedPassword returns a server-generated password for reset flows.
func newGeneratedPassword() string {
	return randomFrom(passwordAlphabet, passwordLength)
}

// newSessionToken returns an opaque token binding a user to a game server.
func newSessionToken() string {
	return randomFrom(pinAlphabet, sessionLength)
}
