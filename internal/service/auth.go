package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kube-rca/alertsync/internal/config"
	"github.com/kube-rca/alertsync/internal/model"
)

const defaultTokenTTL = 12 * time.Hour

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrMisconfigured = errors.New("auth config invalid")
)

// AuthService - 운영 API용 HS256 access token 검증/발급
//
// 로그인 흐름은 없고, 토큰은 `alertsync token` 명령으로 발급
type AuthService struct {
	enabled   bool
	jwtSecret []byte
}

type authClaims struct {
	LoginID string `json:"loginId"`
	jwt.RegisteredClaims
}

func NewAuthService(cfg config.AuthConfig) (*AuthService, error) {
	if cfg.Enabled && strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, ErrMisconfigured
	}
	return &AuthService{
		enabled:   cfg.Enabled,
		jwtSecret: []byte(cfg.JWTSecret),
	}, nil
}

// Enabled - AUTH_ENABLED 값
func (s *AuthService) Enabled() bool {
	return s != nil && s.enabled
}

func (s *AuthService) ParseAccessToken(tokenStr string) (*model.AuthUser, error) {
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}

	loginID := strings.TrimSpace(claims.LoginID)
	if loginID == "" {
		loginID = strings.TrimSpace(claims.Subject)
	}
	if loginID == "" {
		return nil, ErrUnauthorized
	}

	return &model.AuthUser{LoginID: loginID}, nil
}

// IssueAccessToken - loginId claim을 가진 토큰 발급 (ttl <= 0 이면 12시간)
func (s *AuthService) IssueAccessToken(loginID string, ttl time.Duration) (string, error) {
	loginID = strings.TrimSpace(loginID)
	if loginID == "" {
		return "", ErrInvalidInput
	}
	if len(s.jwtSecret) == 0 {
		return "", ErrMisconfigured
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := authClaims{
		LoginID: loginID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   loginID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
