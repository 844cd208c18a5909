package security

import (
	"crypto"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed, expired or signed by another key.
var ErrInvalidToken = errors.New("invalid token")

// AccessClaims holds JWT claims for the access token. Subject is the account phone number.
type AccessClaims struct {
	jwt.RegisteredClaims
}

// AccessToken is an issued access JWT.
type AccessToken struct {
	Value     string
	JTI       string
	ExpiresAt time.Time
}

// Identity is the validated subject of an access token.
type Identity struct {
	PhoneNumber string
	JTI         string
	ExpiresAt   time.Time
}

// TokenProvider issues and validates access JWTs using RS256 or ES256.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	method     jwt.SigningMethod
	issuer     string
	audience   string
	accessTTL  time.Duration
	nowF       func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with privateKey. issuer and audience are set on
// issued tokens and required on validation.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL time.Duration) (*TokenProvider, error) {
	var method jwt.SigningMethod
	switch KeyAlg(privateKey.Public()) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	default:
		return nil, ErrInvalidKey
	}
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		method:     method,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		nowF:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// AccessTTL returns the lifetime of issued access tokens.
func (p *TokenProvider) AccessTTL() time.Duration {
	return p.accessTTL
}

// IssueAccess issues an access JWT for the phone number with a fresh jti.
func (p *TokenProvider) IssueAccess(phone string) (AccessToken, error) {
	jti, err := generateJTI()
	if err != nil {
		return AccessToken{}, err
	}
	now := p.nowF()
	expiresAt := now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   phone,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(p.method, claims).SignedString(p.privateKey)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Value: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud).
func (p *TokenProvider) ValidateAccess(tokenString string) (*Identity, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return p.publicKey, nil },
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{
		PhoneNumber: claims.Subject,
		JTI:         claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
