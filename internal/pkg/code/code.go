package code

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/verification-api/internal/config"
)

// New generates a one-time verification code in the given format.
// Both formats carry at least 24 bits of entropy; uniqueness against the
// ledger is the issuer's job, not ours.
func New(format string) (string, error) {
	switch format {
	case config.CodeFormatNumeric:
		n, err := rand.Int(rand.Reader, big.NewInt(1000000))
		if err != nil {
			return "", fmt.Errorf("generate numeric code: %w", err)
		}
		return fmt.Sprintf("%06d", n.Int64()), nil
	default:
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generate hex code: %w", err)
		}
		return strings.ToUpper(hex.EncodeToString(b)), nil
	}
}
