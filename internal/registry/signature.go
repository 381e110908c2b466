package registry

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// recordClaims is the signed body binding a tool's identity to its content.
type recordClaims struct {
	ToolID      string `json:"tool_id"`
	ContentHash string `json:"content_hash"`
	Version     int    `json:"version"`
	jwt.RegisteredClaims
}

// signer mints the `signature` field recorded on every tool at insertion
// time: a compact, verifiable digest over the record as the Gauntlet saw it.
type signer struct {
	secret []byte
}

func newSigner(secret []byte) *signer {
	return &signer{secret: secret}
}

func (s *signer) sign(toolID, contentHash string, version int, issuedAt time.Time) (string, error) {
	claims := recordClaims{
		ToolID:      toolID,
		ContentHash: contentHash,
		Version:     version,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  toolID,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing tool record: %w", err)
	}
	return signed, nil
}

// newToolID assigns a lexicographically sortable, time-ordered identifier.
func newToolID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}
