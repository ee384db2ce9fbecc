package services

import (
	"context"
	"fmt"
	"time"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const jwtExpDays = 365

// Identity is a newly issued anonymous identity
type Identity struct {
	UID       string    `json:"user_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityService issues and validates anonymous identities
type IdentityService struct {
	profiles  repository.ProfileRepository
	jwtSecret string
	now       func() time.Time
}

// NewIdentityService creates a new identity service
func NewIdentityService(profiles repository.ProfileRepository, jwtSecret string) *IdentityService {
	return &IdentityService{
		profiles:  profiles,
		jwtSecret: jwtSecret,
		now:       time.Now,
	}
}

// GenerateJWT generates a JWT token for a uid
func (s *IdentityService) GenerateJWT(uid string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": uid,
		"exp":     now.AddDate(0, 0, jwtExpDays).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a JWT token and returns the uid.
// Every failure matches models.ErrNotAuthenticated.
func (s *IdentityService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse token: %v", models.ErrNotAuthenticated, err)
	}

	if !token.Valid {
		return "", fmt.Errorf("%w: invalid token", models.ErrNotAuthenticated)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: invalid token claims", models.ErrNotAuthenticated)
	}

	uid, ok := claims["user_id"].(string)
	if !ok || uid == "" {
		return "", fmt.Errorf("%w: user_id not found in token", models.ErrNotAuthenticated)
	}

	return uid, nil
}

// CreateUser creates a new anonymous identity and its default profile
func (s *IdentityService) CreateUser(ctx context.Context) (*Identity, error) {
	uid := uuid.New().String()

	token, err := s.GenerateJWT(uid)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.now()
	if _, err := s.profiles.CreateIfAbsent(ctx, models.NewDefaultProfile(uid, now)); err != nil {
		return nil, models.Transient(fmt.Errorf("failed to create profile: %w", err))
	}

	return &Identity{
		UID:       uid,
		Token:     token,
		CreatedAt: now,
	}, nil
}
