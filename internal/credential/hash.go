package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2Params tunes the IMAP-side KDF. Defaults target roughly 100ms on
// commodity hardware, per §4.3.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultArgon2Params is tuned for >=100ms on a single modern core.
var DefaultArgon2Params = Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 4}

const argon2SaltSize = 16
const argon2KeySize = 32

// HashIMAPPassword hashes pass with argon2id, the memory-hard KDF used for
// IMAP credentials.
func HashIMAPPassword(pass string) (string, error) {
	salt := make([]byte, argon2SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("credential: generating salt: %w", err)
	}
	p := DefaultArgon2Params
	hash := argon2.IDKey([]byte(pass), salt, p.Time, p.Memory, p.Threads, argon2KeySize)

	var out strings.Builder
	out.WriteString("argon2id$")
	out.WriteString(strconv.FormatUint(uint64(p.Time), 10))
	out.WriteRune('$')
	out.WriteString(strconv.FormatUint(uint64(p.Memory), 10))
	out.WriteRune('$')
	out.WriteString(strconv.FormatUint(uint64(p.Threads), 10))
	out.WriteRune('$')
	out.WriteString(base64.RawStdEncoding.EncodeToString(salt))
	out.WriteRune('$')
	out.WriteString(base64.RawStdEncoding.EncodeToString(hash))
	return out.String(), nil
}

// VerifyIMAPPassword reports whether pass matches encoded, a string
// produced by HashIMAPPassword.
func VerifyIMAPPassword(pass, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	t, err1 := strconv.ParseUint(parts[1], 10, 32)
	m, err2 := strconv.ParseUint(parts[2], 10, 32)
	th, err3 := strconv.ParseUint(parts[3], 10, 8)
	salt, err4 := base64.RawStdEncoding.DecodeString(parts[4])
	want, err5 := base64.RawStdEncoding.DecodeString(parts[5])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return false
	}
	got := argon2.IDKey([]byte(pass), salt, uint32(t), uint32(m), uint8(th), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// HashSMTPPassword hashes pass with bcrypt, the scheme used for SMTP
// submission credentials (legacy and vaultbox alike, see DESIGN.md).
func HashSMTPPassword(pass string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("credential: bcrypt hashing: %w", err)
	}
	return string(hash), nil
}

// VerifySMTPPassword reports whether pass matches the bcrypt hash.
func VerifySMTPPassword(pass, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) == nil
}
