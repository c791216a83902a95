package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/logger"
	"github.com/nkiryanov/homestay/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 7 * 24 * time.Hour
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

type Claims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID   `json:"userId"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
	Type   string      `json:"typ"`
}

// Token manager with sensible default
type Config struct {
	// Secret keys to sign access and refresh tokens
	// Both are required and must differ
	AccessSecret  string
	RefreshSecret string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

type TokenManager struct {
	accessKey  []byte
	refreshKey []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	now    func() time.Time
	logger logger.Logger
}

func New(cfg Config, l logger.Logger) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secrets must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("signing method %q is not supported, HMAC expected", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &TokenManager{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
		logger:     l,
	}, nil
}

// GeneratePair issues new access and refresh tokens carrying the principal claims.
// IssuedAt and ExpiresAt of the principal are ignored and set by the manager.
func (m *TokenManager) GeneratePair(p models.Principal) (models.TokenPair, error) {
	var pair models.TokenPair
	now := m.now().Truncate(time.Second)

	access, err := m.sign(p, typeAccess, now, now.Add(m.accessTTL), m.accessKey)
	if err != nil {
		return pair, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	refresh, err := m.sign(p, typeRefresh, now, now.Add(m.refreshTTL), m.refreshKey)
	if err != nil {
		return pair, fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

func (m *TokenManager) sign(p models.Principal, typ string, now time.Time, expiresAt time.Time, key []byte) (models.IssuedToken, error) {
	token := jwt.NewWithClaims(
		m.alg,
		Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   p.UserID.String(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			UserID: p.UserID,
			Email:  p.Email,
			Role:   p.Role,
			Type:   typ,
		},
	)

	value, err := token.SignedString(key)
	if err != nil {
		return models.IssuedToken{}, err
	}

	return models.IssuedToken{Value: value, ExpiresAt: expiresAt}, nil
}

// VerifyAccess parses and validates access token.
// Expiry is an expected outcome: it returns apperrors.ErrTokenExpired and logs nothing.
// Any other failure returns apperrors.ErrTokenInvalid and is logged.
func (m *TokenManager) VerifyAccess(access string) (models.Principal, error) {
	p, err := m.parse(access, typeAccess, m.accessKey)

	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return p, apperrors.ErrTokenExpired
	default:
		m.logger.Warn("access token rejected", "reason", err.Error())
		return p, fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	}
}

// VerifyRefresh parses and validates refresh token. Every rejection is logged, expiry included.
func (m *TokenManager) VerifyRefresh(refresh string) (models.Principal, error) {
	p, err := m.parse(refresh, typeRefresh, m.refreshKey)

	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		m.logger.Error("refresh token rejected", "reason", "expired")
		return p, apperrors.ErrTokenExpired
	default:
		m.logger.Error("refresh token rejected", "reason", err.Error())
		return p, fmt.Errorf("%w: %w", apperrors.ErrTokenInvalid, err)
	}
}

func (m *TokenManager) parse(value string, typ string, key []byte) (models.Principal, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(
		value,
		claims,
		func(t *jwt.Token) (any, error) {
			return key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return models.Principal{}, err
	}

	if claims.Type != typ {
		return models.Principal{}, fmt.Errorf("token type %q, expected %q", claims.Type, typ)
	}
	if claims.UserID == uuid.Nil {
		return models.Principal{}, errors.New("token has no user id")
	}

	p := models.Principal{
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.UTC(),
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.UTC()
	}

	return p, nil
}
