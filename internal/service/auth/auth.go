package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/nkiryanov/homestay/internal/apperrors"
	"github.com/nkiryanov/homestay/internal/models"
	"github.com/nkiryanov/homestay/internal/repository"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refreshtoken"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

var DefaultHasher PasswordHasher = BcryptHasher{}

type tokenManager interface {
	GeneratePair(p models.Principal) (models.TokenPair, error)
	VerifyAccess(access string) (models.Principal, error)
	VerifyRefresh(refresh string) (models.Principal, error)
}

type Config struct {
	// Hasher to use during user registration or login process
	// BcryptHasher is used if not set
	Hasher PasswordHasher

	// Users registered with these emails get admin role
	AdminEmails []string
}

type AuthService struct {
	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string

	adminEmails map[string]struct{}

	hasher   PasswordHasher
	tokens   tokenManager
	userRepo repository.UserRepo

	// Hash compared on login for unknown users so both branches cost the same
	dummyHash     string
	dummyHashOnce sync.Once
}

func NewService(cfg Config, tokens tokenManager, userRepo repository.UserRepo) (*AuthService, error) {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = DefaultHasher
	}

	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			admins[email] = struct{}{}
		}
	}

	return &AuthService{
		accessHeaderName:  defaultAccessHeaderName,
		accessAuthScheme:  defaultAccessAuthScheme,
		refreshCookieName: defaultRefreshCookieName,
		adminEmails:       admins,
		hasher:            hasher,
		tokens:            tokens,
		userRepo:          userRepo,
	}, nil
}

func (s *AuthService) Register(ctx context.Context, email string, password string, name string) (models.User, models.TokenPair, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, models.TokenPair{}, fmt.Errorf("can't use this as password, error=%w", err)
	}

	role := models.RoleUser
	if _, ok := s.adminEmails[strings.ToLower(email)]; ok {
		role = models.RoleAdmin
	}

	user, err := s.userRepo.CreateUser(ctx, repository.CreateUserParams{
		Email:          email,
		Name:           name,
		Role:           role,
		HashedPassword: hash,
	})
	if err != nil {
		return user, models.TokenPair{}, err
	}

	pair, err := s.tokens.GeneratePair(principalOf(user))
	if err != nil {
		return user, pair, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return user, pair, nil
}

func (s *AuthService) Login(ctx context.Context, email string, password string) (models.User, models.TokenPair, error) {
	user, err := s.userRepo.GetUserByEmail(ctx, email)

	switch {
	case err == nil:
		if s.hasher.Compare(user.HashedPassword, password) != nil {
			return models.User{}, models.TokenPair{}, apperrors.ErrInvalidCredentials
		}
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = s.hasher.Compare(s.getDummyHash(), password)
		return models.User{}, models.TokenPair{}, apperrors.ErrInvalidCredentials
	default:
		return models.User{}, models.TokenPair{}, err
	}

	pair, err := s.tokens.GeneratePair(principalOf(user))
	if err != nil {
		return user, pair, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return user, pair, nil
}

// Refresh verifies refresh token and issues a brand new pair.
// The user is reloaded so role changes apply on rotation.
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	p, err := s.tokens.VerifyRefresh(refresh)
	if err != nil {
		return models.TokenPair{}, err
	}

	user, err := s.userRepo.GetUserByID(ctx, p.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.TokenPair{}, fmt.Errorf("%w: user is gone", apperrors.ErrTokenInvalid)
	case err != nil:
		return models.TokenPair{}, err
	}

	return s.tokens.GeneratePair(principalOf(user))
}

func (s *AuthService) GetUser(ctx context.Context, p models.Principal) (models.User, error) {
	return s.userRepo.GetUserByID(ctx, p.UserID)
}

// Authenticate extracts bearer access token from request and verifies it.
// The scheme keyword is matched case-sensitively.
func (s *AuthService) Authenticate(r *http.Request) (models.Principal, error) {
	header := r.Header.Get(s.accessHeaderName)
	token, ok := strings.CutPrefix(header, s.accessAuthScheme+" ")
	if !ok || token == "" {
		return models.Principal{}, apperrors.ErrTokenInvalid
	}

	return s.tokens.VerifyAccess(token)
}

// Set refresh token to response as http-only cookie
func (s *AuthService) SetRefreshCookie(w http.ResponseWriter, pair models.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     "/",
		Expires:  pair.Refresh.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Get refresh token from request cookie
func (s *AuthService) GetRefreshString(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil {
		return "", err
	}

	return cookie.Value, nil
}

// Attach access token to request; used by clients and tests
func (s *AuthService) SetAccessToRequest(r *http.Request, pair models.TokenPair) {
	r.Header.Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)
}

func (s *AuthService) getDummyHash() string {
	s.dummyHashOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-password")
	})
	return s.dummyHash
}

func principalOf(u models.User) models.Principal {
	return models.Principal{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
	}
}
