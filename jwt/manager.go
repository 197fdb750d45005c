package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 (default).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 using PrivateKey as the shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	// KindAccess marks short-lived request credentials.
	KindAccess Kind = "access"
	// KindRefresh marks credentials that may only mint new access tokens.
	KindRefresh Kind = "refresh"
)

var (
	// ErrExpired is returned for a correctly signed token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrBadSignature is returned for any token that cannot be authenticated:
	// bad signature, wrong algorithm, unknown key, malformed input, or foreign issuer/audience.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrWrongKind is returned when an access token is presented as refresh or vice versa.
	ErrWrongKind = errors.New("wrong token kind")
	// ErrDeviceMismatch is returned when the embedded fingerprint differs from the presented one.
	ErrDeviceMismatch = errors.New("device fingerprint mismatch")
)

// Config holds codec settings. A Manager copies it at construction.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	// Now overrides the clock used for issuing and validating. Defaults to time.Now.
	Now func() time.Time
}

// Manager issues and verifies signed access and refresh tokens.
//
// A Manager is immutable and safe for concurrent use.
type Manager struct {
	config Config
}

// AccessPayload is the identity carried by an access token.
type AccessPayload struct {
	UserID            string
	Email             string
	Role              string
	SessionID         string
	DeviceFingerprint string
	IPAddress         string
	LoginTime         time.Time
	LastActivity      time.Time
}

// RefreshPayload is the identity carried by a refresh token.
type RefreshPayload struct {
	UserID            string
	SessionID         string
	DeviceFingerprint string
}

// AccessClaims are the verified claims of an access token.
type AccessClaims struct {
	Kind              Kind   `json:"kind"`
	UserID            string `json:"uid"`
	Email             string `json:"email,omitempty"`
	Role              string `json:"role,omitempty"`
	SessionID         string `json:"sid"`
	DeviceFingerprint string `json:"dfp"`
	IPAddress         string `json:"ip,omitempty"`
	LoginTime         int64  `json:"lgt,omitempty"`
	LastActivity      int64  `json:"lat,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims are the verified claims of a refresh token.
type RefreshClaims struct {
	Kind              Kind   `json:"kind"`
	UserID            string `json:"uid"`
	SessionID         string `json:"sid"`
	DeviceFingerprint string `json:"dfp"`
	jwt.RegisteredClaims
}

type kindedClaims interface {
	jwt.Claims
	tokenKind() Kind
}

func (c *AccessClaims) tokenKind() Kind  { return c.Kind }
func (c *RefreshClaims) tokenKind() Kind { return c.Kind }

// Payload returns the identity fields of c.
func (c *AccessClaims) Payload() AccessPayload {
	return AccessPayload{
		UserID:            c.UserID,
		Email:             c.Email,
		Role:              c.Role,
		SessionID:         c.SessionID,
		DeviceFingerprint: c.DeviceFingerprint,
		IPAddress:         c.IPAddress,
		LoginTime:         unixOrZero(c.LoginTime),
		LastActivity:      unixOrZero(c.LastActivity),
	}
}

// Payload returns the identity fields of c.
func (c *RefreshClaims) Payload() RefreshPayload {
	return RefreshPayload{
		UserID:            c.UserID,
		SessionID:         c.SessionID,
		DeviceFingerprint: c.DeviceFingerprint,
	}
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("ed25519 requires private key")
		}
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// Method returns the configured signing method.
func (m *Manager) Method() SigningMethod { return m.config.SigningMethod }

// IssueAccess signs an access token for p that expires AccessTTL from now.
func (m *Manager) IssueAccess(p AccessPayload) (string, error) {
	now := m.config.Now()
	claims := AccessClaims{
		Kind:              KindAccess,
		UserID:            p.UserID,
		Email:             p.Email,
		Role:              p.Role,
		SessionID:         p.SessionID,
		DeviceFingerprint: p.DeviceFingerprint,
		IPAddress:         p.IPAddress,
		LoginTime:         unixOrNil(p.LoginTime),
		LastActivity:      unixOrNil(p.LastActivity),
		RegisteredClaims:  m.registered(p.UserID, now, m.config.AccessTTL),
	}
	return m.sign(&claims)
}

// IssueRefresh signs a refresh token for p that expires RefreshTTL from now.
func (m *Manager) IssueRefresh(p RefreshPayload) (string, error) {
	now := m.config.Now()
	claims := RefreshClaims{
		Kind:              KindRefresh,
		UserID:            p.UserID,
		SessionID:         p.SessionID,
		DeviceFingerprint: p.DeviceFingerprint,
		RegisteredClaims:  m.registered(p.UserID, now, m.config.RefreshTTL),
	}
	return m.sign(&claims)
}

// Verified is the result of Verify. Exactly one of Access or Refresh is set, matching Kind.
type Verified struct {
	Kind    Kind
	Access  *AccessClaims
	Refresh *RefreshClaims
}

// Verify checks signature, expiry, issuer, audience and the kind claim of token.
//
// Errors wrap ErrExpired, ErrBadSignature or ErrWrongKind.
func (m *Manager) Verify(token string, kind Kind) (*Verified, error) {
	switch kind {
	case KindAccess:
		claims := &AccessClaims{}
		if err := m.parse(token, claims, KindAccess); err != nil {
			return nil, err
		}
		return &Verified{Kind: KindAccess, Access: claims}, nil
	case KindRefresh:
		claims := &RefreshClaims{}
		if err := m.parse(token, claims, KindRefresh); err != nil {
			return nil, err
		}
		return &Verified{Kind: KindRefresh, Refresh: claims}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrWrongKind, kind)
	}
}

// VerifyAccess verifies an access token and, when fingerprint is non-empty, its device binding.
func (m *Manager) VerifyAccess(token, fingerprint string) (*AccessClaims, error) {
	v, err := m.Verify(token, KindAccess)
	if err != nil {
		return nil, err
	}
	if err := checkDevice(v.Access.DeviceFingerprint, fingerprint); err != nil {
		return v.Access, err
	}
	return v.Access, nil
}

// VerifyRefresh verifies a refresh token and, when fingerprint is non-empty, its device binding.
func (m *Manager) VerifyRefresh(token, fingerprint string) (*RefreshClaims, error) {
	v, err := m.Verify(token, KindRefresh)
	if err != nil {
		return nil, err
	}
	if err := checkDevice(v.Refresh.DeviceFingerprint, fingerprint); err != nil {
		return v.Refresh, err
	}
	return v.Refresh, nil
}

func checkDevice(embedded, presented string) error {
	if presented == "" {
		return nil
	}
	if !constantTimeEqual(embedded, presented) {
		return ErrDeviceMismatch
	}
	return nil
}

func (m *Manager) registered(subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    m.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if m.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{m.config.Audience}
	}
	return rc
}

func (m *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(m.getMethod(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signKey, err := m.getSignKey()
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

func (m *Manager) parse(tokenStr string, claims kindedClaims, want Kind) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.getMethod().Alg()}),
		jwt.WithTimeFunc(m.config.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, m.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !token.Valid {
		return ErrBadSignature
	}
	if claims.tokenKind() != want {
		return fmt.Errorf("%w: got %q, want %q", ErrWrongKind, claims.tokenKind(), want)
	}

	iat, err := claims.GetIssuedAt()
	if err == nil && iat != nil && m.config.MaxFutureIAT > 0 {
		if iat.Time.After(m.config.Now().Add(m.config.MaxFutureIAT)) {
			return fmt.Errorf("%w: iat too far in the future", ErrBadSignature)
		}
	}
	return nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != m.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return m.keyBytesToVerifyKey(key)
	}

	if m.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return m.getVerifyKey()
}

func (m *Manager) getMethod() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) getSignKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPrivateKey(m.config.PrivateKey)
}

func (m *Manager) getVerifyKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	if len(m.config.PublicKey) == 0 {
		priv, err := parseEdPrivateKey(m.config.PrivateKey)
		if err != nil {
			return nil, err
		}
		return priv.Public(), nil
	}
	return parseEdPublicKey(m.config.PublicKey)
}

func (m *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}

func unixOrNil(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
