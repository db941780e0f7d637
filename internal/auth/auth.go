package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Roles
const (
	RoleAdmin     = "admin"
	RoleAuthority = "authority"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Account is an authority login. PasswordHash is a bcrypt hash; Password is
// only read from development seed files and hashed on load.
type Account struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Password     string `yaml:"password,omitempty"`
	Role         string `yaml:"role"`
	Scope        string `yaml:"scope"`
}

// Claims carried in the access token. Scope "*" sees every region.
type Claims struct {
	Role  string `json:"role"`
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the holder may change zones.
func (c *Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// Service issues and verifies HS256 tokens for configured accounts.
type Service struct {
	secret   []byte
	ttl      time.Duration
	accounts map[string]Account
	now      func() time.Time
}

// NewService creates an auth service. Accounts with an empty role default to
// authority.
func NewService(secret string, ttl time.Duration, accounts []Account) *Service {
	s := &Service{
		secret:   []byte(secret),
		ttl:      ttl,
		accounts: make(map[string]Account, len(accounts)),
		now:      time.Now,
	}
	for _, a := range accounts {
		if a.Role == "" {
			a.Role = RoleAuthority
		}
		s.accounts[strings.ToLower(a.Username)] = a
	}
	return s
}

// HashPassword returns the bcrypt hash stored in Account.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login checks credentials and returns a signed token with its expiry.
func (s *Service) Login(username, password string) (string, time.Time, *Claims, error) {
	acc, ok := s.accounts[strings.ToLower(username)]
	if !ok {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}
	claims, token, err := s.Issue(acc.Username, acc.Role, acc.Scope)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return token, claims.ExpiresAt.Time, claims, nil
}

// Issue signs a token for subject without checking credentials.
func (s *Service) Issue(subject, role, scope string) (*Claims, string, error) {
	now := s.now()
	claims := &Claims{
		Role:  role,
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "tourguard",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, "", fmt.Errorf("sign token: %w", err)
	}
	return claims, token, nil
}

// Parse verifies a token and returns its claims.
func (s *Service) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
