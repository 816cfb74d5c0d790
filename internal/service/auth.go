package core

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrInvalidClaims = errors.New("invalid claims")
)

// Authenticator issues and verifies operator bearer tokens
type Authenticator struct {
	secret       []byte
	issuer       string
	passwordHash string
	expiry       time.Duration
}

// NewAuthenticator creates an authenticator. An empty secret disables it.
// passwordHash is the bcrypt hash checked by Login; empty disables Login.
func NewAuthenticator(secret, issuer, passwordHash string, expiry time.Duration) *Authenticator {
	if expiry <= 0 {
		expiry = 12 * time.Hour
	}
	return &Authenticator{
		secret:       []byte(secret),
		issuer:       issuer,
		passwordHash: passwordHash,
		expiry:       expiry,
	}
}

// Enabled reports whether tokens are required
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// CanLogin reports whether password login is configured
func (a *Authenticator) CanLogin() bool {
	return a.Enabled() && a.passwordHash != ""
}

// Login checks password against the configured hash and returns a token for subject
func (a *Authenticator) Login(subject, password string) (string, error) {
	if !a.CanLogin() || !VerifyPassword(password, a.passwordHash) {
		return "", ErrInvalidClaims
	}
	return a.CreateToken(subject)
}

// CreateToken signs an HS256 token for subject
func (a *Authenticator) CreateToken(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses tokenString and returns its subject
func (a *Authenticator) Verify(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidClaims
	}
	return claims.Subject, nil
}

// HashPassword returns the bcrypt hash of password
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword reports whether password matches hash
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
