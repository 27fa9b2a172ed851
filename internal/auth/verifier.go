package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/mohsinalimat/watchparty/internal/domain"
)

// ErrAuthenticationFailed is returned for any token that does not prove the claimed uid.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Verifier turns a (uid, token) pair into a verified identity.
type Verifier interface {
	Verify(ctx context.Context, uid, token string) (*domain.Identity, error)
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// JWTVerifier validates ID tokens either against a remote JWKS or a shared HMAC secret.
type JWTVerifier struct {
	keyFunc jwt.Keyfunc
	issuer  string
	jwks    *keyfunc.JWKS
}

// NewJWKSVerifier fetches the key set at jwksURL and keeps it refreshed in the background.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer string) (*JWTVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logrus.WithError(err).WithField("jwks_url", jwksURL).Error("JWKS refresh failed")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}
	logrus.WithField("jwks_url", jwksURL).Info("JWKS loaded")
	return &JWTVerifier{keyFunc: jwks.Keyfunc, issuer: issuer, jwks: jwks}, nil
}

// NewHMACVerifier validates HS256 tokens signed with secret.
func NewHMACVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("auth secret cannot be empty")
	}
	key := []byte(secret)
	return &JWTVerifier{
		keyFunc: func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return key, nil
		},
		issuer: issuer,
	}, nil
}

// Verify checks the signature and expiry of token and that its subject is uid.
func (v *JWTVerifier) Verify(ctx context.Context, uid, token string) (*domain.Identity, error) {
	if uid == "" || token == "" {
		return nil, ErrAuthenticationFailed
	}
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFunc, opts...)
	if err != nil || !parsed.Valid {
		logrus.WithError(err).WithField("uid", uid).Debug("Token verification failed")
		return nil, ErrAuthenticationFailed
	}
	if claims.Subject != uid {
		logrus.WithField("uid", uid).Warn("Token subject does not match claimed uid")
		return nil, ErrAuthenticationFailed
	}
	return &domain.Identity{UID: claims.Subject, Email: claims.Email}, nil
}

// Close stops the background JWKS refresh, if any.
func (v *JWTVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
