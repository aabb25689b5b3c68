package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims carries the subject (decimal user id) and the email the token was
// minted for. The email is re-checked against the identity store on use.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Subject), 10, 64)
	if err != nil || id == 0 {
		return 0, ErrTokenInvalid
	}
	return id, nil
}

type JWT struct {
	secret []byte
	ttl    time.Duration
}

func NewJWT(secret string, ttl time.Duration) *JWT {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &JWT{secret: []byte(secret), ttl: ttl}
}

func (j *JWT) Sign(userID uint64, email string) (string, error) {
	return j.signUntil(userID, email, time.Now().Add(j.ttl))
}

func (j *JWT) signUntil(userID uint64, email string, exp time.Time) (string, error) {
	claims := Claims{
		Email: strings.ToLower(strings.TrimSpace(email)),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(j.secret)
}

// Verify checks signature, algorithm and expiry. It returns ErrTokenExpired
// for expired tokens and ErrTokenInvalid for everything else.
func (j *JWT) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !t.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
