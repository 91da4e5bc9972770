package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const deviceTokenType = "device"

// JWTService issues and checks the bearer tokens paired devices use to reach
// the API and the live channel.
type JWTService struct {
	secretKey []byte
	tokenTTL  time.Duration
	issuer    string
}

type Claims struct {
	DeviceID  string `json:"deviceId"`
	TokenType string `json:"tokenType"`
	jwt.RegisteredClaims
}

type DeviceToken struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func NewJWTService(secretKey string, tokenTTL time.Duration) *JWTService {
	if tokenTTL <= 0 {
		tokenTTL = 30 * 24 * time.Hour
	}
	return &JWTService{
		secretKey: []byte(secretKey),
		tokenTTL:  tokenTTL,
		issuer:    "guardian",
	}
}

func (j *JWTService) GenerateDeviceToken(deviceID string) (*DeviceToken, error) {
	if deviceID == "" {
		return nil, errors.New("device ID is required")
	}

	now := time.Now()
	expiresAt := now.Add(j.tokenTTL)

	claims := Claims{
		DeviceID:  deviceID,
		TokenType: deviceTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    j.issuer,
			Subject:   deviceID,
			ID:        GenerateUUID(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.secretKey)
	if err != nil {
		return nil, err
	}

	return &DeviceToken{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
	}, nil
}

func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return j.secretKey, nil
	}, jwt.WithIssuer(j.issuer))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	if claims.TokenType != deviceTokenType {
		return nil, errors.New("invalid token type")
	}

	return claims, nil
}
