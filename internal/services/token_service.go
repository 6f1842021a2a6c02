package services

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/driftlock/desktop-auth/internal/config"
	"github.com/driftlock/desktop-auth/internal/utils"
)

// TokenIssuer is carried in the "iss" claim of every session token.
const TokenIssuer = "Driftlock"

// ---------------------------------------------------------------------
// TokenService interface
// ---------------------------------------------------------------------

// TokenService mints and validates the signed session tokens handed to
// desktop clients on a successful exchange. Tokens are self-contained:
// validity is established entirely from the signature and the embedded
// expiry, nothing is stored server-side.
type TokenService interface {
	Mint(subjectID uuid.UUID) (string, error)
	Validate(tokenString string) (uuid.UUID, error)
}

// ---------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------

type tokenService struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	expiry     time.Duration
}

func NewTokenService(cfg *config.Config) TokenService {
	return &tokenService{
		privateKey: cfg.RSAPrivateKey,
		publicKey:  cfg.RSAPublicKey,
		expiry:     cfg.SessionTokenExpiry,
	}
}

func (t *tokenService) Mint(subjectID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": TokenIssuer,
		"sub": subjectID.String(),
		"exp": now.Add(t.expiry).Unix(),
		"iat": now.Unix(),
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(t.privateKey)
}

func (t *tokenService) Validate(tokenString string) (uuid.UUID, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, utils.ErrTokenInvalid
		}
		return t.publicKey, nil
	},
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, utils.ErrTokenExpired
		}
		return uuid.Nil, utils.ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return uuid.Nil, utils.ErrTokenInvalid
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return uuid.Nil, utils.ErrTokenInvalid
	}
	subjectID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, utils.ErrTokenInvalid
	}
	return subjectID, nil
}
