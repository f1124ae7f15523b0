package credential

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// passwordAlphabet is a ~70-character set drawn with a CSPRNG, per §4.3.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*-_=+"

const passwordLength = 24
const usernameSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const usernameSuffixLength = 6

var nonUsernameChar = regexp.MustCompile(`[^a-z0-9-]`)

// GeneratePassword returns a new random password of passwordLength
// characters drawn from passwordAlphabet.
func GeneratePassword() (string, error) {
	return randomString(passwordLength, passwordAlphabet)
}

// DeriveUsername implements the username derivation rule of §4.3:
// preferred form alias@domain when alias is set, otherwise a random
// fallback scoped to the normalized domain.
func DeriveUsername(alias *string, domain string) (string, error) {
	if alias != nil && *alias != "" {
		return *alias + "@" + domain, nil
	}
	suffix, err := randomString(usernameSuffixLength, usernameSuffixAlphabet)
	if err != nil {
		return "", err
	}
	normalized := nonUsernameChar.ReplaceAllString(strings.ToLower(strings.ReplaceAll(domain, ".", "-")), "")
	return fmt.Sprintf("encimap-%s-%s", normalized, suffix), nil
}

func randomString(length int, alphabet string) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("credential: generating random string: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
