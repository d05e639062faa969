package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// dummyHash is checked for unknown usernames
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3EMjRZ.3n6Pu0MvdBv2gA6a"

// Claims represents the JWT claims for an authenticated user
type Claims struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Service handles authentication operations
type Service struct {
	jwtSecret     []byte
	tokenDuration time.Duration
	users         map[string]config.User
	now           func() time.Time
}

// NewService creates a new auth service for the configured users
func NewService(jwtSecret string, tokenDuration time.Duration, users []config.User) *Service {
	if tokenDuration == 0 {
		tokenDuration = 24 * time.Hour
	}
	s := &Service{
		jwtSecret:     []byte(jwtSecret),
		tokenDuration: tokenDuration,
		users:         make(map[string]config.User, len(users)),
		now:           time.Now,
	}
	for _, u := range users {
		s.users[u.Username] = u
	}
	return s
}

// Enabled reports whether logins are possible at all
func (s *Service) Enabled() bool {
	return len(s.jwtSecret) > 0 && len(s.users) > 0
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// CheckPassword compares a password against a hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Login checks credentials and returns a signed token
func (s *Service) Login(username, password string) (string, *Claims, error) {
	if !s.Enabled() {
		return "", nil, ErrInvalidCredentials
	}
	user, ok := s.users[username]
	if !ok {
		CheckPassword(password, dummyHash)
		return "", nil, ErrInvalidCredentials
	}
	if !CheckPassword(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.GenerateToken(user.Username, user.Admin)
	if err != nil {
		return "", nil, err
	}
	claims, err := s.ValidateToken(token)
	return token, claims, err
}

// GenerateToken creates a JWT for an authenticated user
func (s *Service) GenerateToken(username string, isAdmin bool) (string, error) {
	now := s.now()
	claims := Claims{
		Username: username,
		IsAdmin:  isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken validates a JWT and returns the claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))

	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}

	// Users removed from the config lose access immediately.
	if _, ok := s.users[claims.Username]; !ok {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
