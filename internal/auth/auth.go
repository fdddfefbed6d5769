package auth

import (
	"errors"
	"fmt"
	"strings"

	"chat-relay/internal/protocol"
	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

// Claims is the payload the external credential service signs into every
// token. The relay only consumes tokens, it never issues them.
type Claims struct {
	UserId string `json:"user_id"`
	jwt.RegisteredClaims
}

type Verifier struct {
	signingKey []byte
}

func NewVerifier(signingKey []byte) *Verifier {
	return &Verifier{signingKey: signingKey}
}

// Verify parses and validates a token string and returns its claims. Any
// failure maps to one of the Jwt_* catalog entries.
func (v *Verifier) Verify(tokenString string) (*Claims, *protocol.Error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, protocol.ErrInvalidToken
	}
	if claims.UserId == "" {
		return nil, protocol.ErrInvalidToken
	}

	return claims, nil
}

func classify(err error) *protocol.Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return protocol.ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return protocol.ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return protocol.ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return protocol.ErrUnsupportedToken
	default:
		return protocol.ErrInvalidToken
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, *protocol.Error) {
	if header == "" {
		return "", protocol.ErrMissingCredentials
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", protocol.ErrMalformedToken
	}

	token := strings.TrimPrefix(header, bearerPrefix)
	if token == "" {
		return "", protocol.ErrMissingCredentials
	}
	return token, nil
}
