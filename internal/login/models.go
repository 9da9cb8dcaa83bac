package login

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Roles a user can log in as
const (
	RoleDoctor     = "doctor"
	RolePatient    = "patient"
	RolePharmacist = "pharmacist"
)

// ValidRole returns true for the three dashboard roles
func ValidRole(role string) bool {
	switch role {
	case RoleDoctor, RolePatient, RolePharmacist:
		return true
	}
	return false
}

// User represents a logged-in user, without credentials
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Token represents the session token issued at login
type Token struct {

	// Role is the dashboard the user logged in to
	Role string `json:"role"`

	// Name is the display name of the user
	Name string `json:"name"`

	// Username is the login name of the user
	Username string `json:"username"`

	jwt.RegisteredClaims
}

// String converts a token into a string, returning the string
func (t *Token) String() string {

	pretty, err := json.MarshalIndent(*t, "", "\t")

	if err != nil {
		return fmt.Sprintf("%+v", *t)
	}

	return string(pretty)
}

// User returns the user the token was issued to
func (t *Token) User() User {
	return User{
		ID:       t.Subject,
		Name:     t.Name,
		Username: t.Username,
		Role:     t.Role,
	}
}

// NewToken creates a new token for user (but does not sign it)
func NewToken(audience string, user User, iat, exp int64) Token {
	return Token{
		Role:     user.Role,
		Name:     user.Name,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(time.Unix(iat, 0)),
			NotBefore: jwt.NewNumericDate(time.Unix(iat, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(exp, 0)),
			Audience:  jwt.ClaimStrings{audience},
		},
	}
}

// Signed signs a token and returns the signed token as a string
func Signed(token Token, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, token).SignedString([]byte(secret))
}

// Parse validates a signed token against secret and audience
func Parse(signed, secret, audience string) (*Token, error) {

	claims := &Token{}

	token, err := jwt.ParseWithClaims(signed, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method was %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	if !token.Valid { //checks iat, nbf, exp
		return nil, errors.New("token invalid")
	}

	if !claims.VerifyAudience(audience, true) {
		return nil, fmt.Errorf("aud %v does not match %s", claims.Audience, audience)
	}

	if !HasRequiredClaims(*claims) {
		return nil, errors.New("token missing required claims")
	}

	return claims, nil
}

// HasRequiredClaims returns false if the token has no subject or role
func HasRequiredClaims(token Token) bool {
	if token.Subject == "" || !ValidRole(token.Role) {
		return false
	}
	return true
}
