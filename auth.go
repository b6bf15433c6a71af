package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// appJWTLifetime stays under GitHub's 10-minute ceiling to absorb clock skew.
const appJWTLifetime = 540 * time.Second

// AppCredential is the GitHub App identity loaded at startup.
type AppCredential struct {
	AppID      string
	ClientID   string
	PrivateKey string // PEM, already normalized
}

// SignedAppJWT is a short-lived App-level bearer token.
type SignedAppJWT struct {
	Token     string
	IssuedAt  int64
	ExpiresAt int64
}

// normalizePrivateKey turns escaped "\n" sequences into real newlines. Keys
// pasted into .env files or CI secrets usually arrive on a single line.
func normalizePrivateKey(key string) string {
	return strings.TrimSpace(strings.ReplaceAll(key, `\n`, "\n"))
}

// SignAppJWT creates an RS256 JWT for GitHub App authentication with
// iat = now, exp = now + 540 and iss = the App id.
func SignAppJWT(cred *AppCredential, now time.Time) (*SignedAppJWT, error) {
	if cred == nil || cred.AppID == "" || cred.PrivateKey == "" {
		return nil, &ConfigurationError{
			Op:  "sign app jwt",
			Msg: "GitHub App credential not configured (GITHUB_APP_ID and GITHUB_APP_PRIVATE_KEY are required)",
		}
	}

	key := normalizePrivateKey(cred.PrivateKey)
	if !strings.Contains(key, "-----BEGIN") || !strings.Contains(key, "-----END") {
		return nil, &ConfigurationError{
			Op:  "sign app jwt",
			Msg: "GitHub App private key is malformed: missing PEM BEGIN/END markers",
		}
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key))
	if err != nil {
		return nil, &ConfigurationError{
			Op:  "sign app jwt",
			Msg: "GitHub App private key could not be parsed",
			Err: err,
		}
	}

	iat := now.Unix()
	exp := iat + int64(appJWTLifetime/time.Second)
	claims := jwt.RegisteredClaims{
		Issuer:    cred.AppID,
		IssuedAt:  jwt.NewNumericDate(time.Unix(iat, 0)),
		ExpiresAt: jwt.NewNumericDate(time.Unix(exp, 0)),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		return nil, &ConfigurationError{
			Op:  "sign app jwt",
			Msg: "signing failed",
			Err: fmt.Errorf("rs256: %w", err),
		}
	}

	return &SignedAppJWT{Token: token, IssuedAt: iat, ExpiresAt: exp}, nil
}
