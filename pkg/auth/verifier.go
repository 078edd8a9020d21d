package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure; callers only need to know
// the connection must be rejected.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated principal behind a connection.
type Identity struct {
	RiderID string
}

// TokenVerifier validates an opaque identity token presented at connect time.
// The JWT implementation below is the default; deployments fronted by a
// separate identity service can substitute their own.
type TokenVerifier interface {
	VerifyToken(token string) (Identity, error)
}

// AppClaims defines our custom JWT claims structure.
type AppClaims struct {
	jwt.RegisteredClaims
}

type JWTVerifier struct {
	secret []byte
}

var _ TokenVerifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) VerifyToken(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*AppClaims)
	if !ok || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{RiderID: claims.Subject}, nil
}
