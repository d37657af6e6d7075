package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifierConfig holds configuration for JWT verification.
type VerifierConfig struct {
	// Algorithm is "HS256" or "RS256".
	Algorithm string

	// HS256 shared secret.
	SecretKey string

	// RS256 public key in PEM form.
	PublicKeyPEM string

	// Leeway tolerates clock skew on exp/nbf.
	Leeway time.Duration
}

// Verifier checks token signatures and extracts claims.
type Verifier struct {
	config    VerifierConfig
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewVerifier creates a new JWT verifier.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	v := &Verifier{config: config}

	switch config.Algorithm {
	case "RS256":
		if config.PublicKeyPEM == "" {
			return nil, fmt.Errorf("RS256 requires a public key")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(config.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to load public key from PEM: %w", err)
		}
		v.publicKey = key
	case "HS256":
		if config.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", config.Algorithm)
	}

	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{config.Algorithm}),
		jwt.WithLeeway(config.Leeway),
	)
	return v, nil
}

// VerifyToken verifies a JWT token and returns the claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}

	mc := jwt.MapClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, mc, func(token *jwt.Token) (interface{}, error) {
		if v.publicKey != nil {
			return v.publicKey, nil
		}
		return []byte(v.config.SecretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return extractClaims(mc)
}

// extractClaims validates sub, roles and scopes.
func extractClaims(mc jwt.MapClaims) (*Claims, error) {
	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}
	roles, err := stringSlice(mc, "roles")
	if err != nil {
		return nil, err
	}
	scopes, err := stringSlice(mc, "scopes")
	if err != nil {
		return nil, err
	}
	if !allKnown(roles, RoleViewer, RoleController) {
		return nil, fmt.Errorf("invalid roles: %v", roles)
	}
	if !allKnown(scopes, ScopeRead, ScopeControl, ScopeTelemetry) {
		return nil, fmt.Errorf("invalid scopes: %v", scopes)
	}
	return &Claims{Subject: sub, Roles: roles, Scopes: scopes}, nil
}

func stringSlice(mc jwt.MapClaims, key string) ([]string, error) {
	raw, ok := mc[key].([]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid '%s' claim", key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("invalid %s claim: not a string", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func allKnown(values []string, known ...string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		found := false
		for _, k := range known {
			if v == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// IssueHS256 signs a token for subject. A zero ttl issues a token without
// expiry.
func IssueHS256(secret, subject string, roles, scopes []string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("empty secret")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    subject,
		"roles":  roles,
		"scopes": scopes,
		"iat":    now.Unix(),
	}
	if ttl != 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RoleScopes returns the scopes granted to role.
func RoleScopes(role string) []string {
	if role == RoleController {
		return []string{ScopeRead, ScopeControl, ScopeTelemetry}
	}
	return []string{ScopeRead, ScopeTelemetry}
}
