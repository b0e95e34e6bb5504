package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

type AccessClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// AuthService issues and verifies the HS256 bearer tokens sent by the dashboard.
type AuthService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthService(secret, issuer string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AuthService{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

func (s *AuthService) GenerateToken(userID uuid.UUID) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}

	claims := AccessClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    s.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// ParseToken verifies signature, issuer and expiry and returns the user id.
func (s *AuthService) ParseToken(tokenStr string) (uuid.UUID, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, ErrExpiredToken
		}
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.FromString(claims.UserID)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: bad user_id claim", ErrInvalidToken)
	}
	return userID, nil
}
