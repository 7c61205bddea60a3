// Package auth gates the mutating routes behind a single admin password and
// HMAC signed bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maruel/ksid"
	"golang.org/x/crypto/bcrypt"
)

// TokenExpiration is the lifetime of an issued token.
const TokenExpiration = 24 * time.Hour

const subject = "admin"

var (
	// ErrDisabled is returned when no admin password is configured.
	ErrDisabled = errors.New("admin access is disabled")
	// ErrBadPassword is returned by Login on a wrong password.
	ErrBadPassword = errors.New("invalid password")

	errUnauthorized   = errors.New("unauthorized")
	errInvalidAuthHdr = errors.New("invalid authorization header")
	errInvalidToken   = errors.New("invalid token")
)

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Authenticator issues and verifies admin tokens.
type Authenticator struct {
	secret []byte
	hash   []byte
	now    func() time.Time
}

// New returns an Authenticator. An empty passwordHash disables Login.
func New(secret []byte, passwordHash string) *Authenticator {
	return &Authenticator{secret: secret, hash: []byte(passwordHash), now: time.Now}
}

// Enabled reports whether an admin password is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.hash) != 0
}

// Login checks password and returns a signed token with its expiration.
func (a *Authenticator) Login(password string) (string, time.Time, error) {
	if !a.Enabled() {
		return "", time.Time{}, ErrDisabled
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return "", time.Time{}, ErrBadPassword
	}
	now := a.now()
	exp := now.Add(TokenExpiration)
	claims := jwt.MapClaims{
		"sub": subject,
		"sid": ksid.NewID().String(),
		"exp": exp.Unix(),
		"iat": now.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, exp, nil
}

// Verify checks the token passed in the Authorization header of r.
func (a *Authenticator) Verify(r *http.Request) error {
	if !a.Enabled() {
		return ErrDisabled
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return errUnauthorized
	}
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenString == "" {
		return errInvalidAuthHdr
	}
	return a.VerifyToken(tokenString)
}

// VerifyToken checks a token returned by Login.
func (a *Authenticator) VerifyToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return errInvalidToken
	}
	if sub, err := token.Claims.GetSubject(); err != nil || sub != subject {
		return errInvalidToken
	}
	return nil
}
