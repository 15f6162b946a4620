package devicetoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Codec signs and verifies device tokens: an HS256 wrapper around the
// client's persisted device id so a join can prove the device identity it
// claims instead of sending a spoofable raw id.
type Codec struct{ secret []byte }

// New creates a codec over a shared signing secret
func New(secret string) *Codec { return &Codec{secret: []byte(secret)} }

// Sign issues a token for deviceID with the given TTL
func (c *Codec) Sign(deviceID string, ttl time.Duration) (string, error) {
	if deviceID == "" {
		return "", errors.New("empty device id")
	}
	claims := jwt.MapClaims{
		"sub": deviceID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(c.secret)
}

// Verify checks a token and returns the device id it carries
func (c *Codec) Verify(tok string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return "", err
	}
	deviceID, _ := claims["sub"].(string)
	if deviceID == "" {
		return "", errors.New("no sub")
	}
	return deviceID, nil
}
