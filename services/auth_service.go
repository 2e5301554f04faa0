package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"go.uber.org/zap"

	"github.com/learnato/forum/models"
	"github.com/learnato/forum/store"
	"github.com/learnato/forum/utils"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ConflictError reports that a unique account field is already taken.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrInvalidCredentials is returned by Login for an unknown email or wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

type AuthConfig struct {
	Secret       []byte
	TokenTTL     time.Duration
	StoreTimeout time.Duration
}

// AuthService registers accounts and issues tokens.
type AuthService struct {
	users  store.UserStore
	cfg    AuthConfig
	logger *zap.Logger
}

func NewAuthService(users store.UserStore, cfg AuthConfig, logger *zap.Logger) *AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = utils.DefaultTokenTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{users: users, cfg: cfg, logger: logger}
}

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (in RegisterInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required, validation.RuneLength(3, 30),
			validation.Match(usernamePattern).Error("may only contain letters, numbers and underscores")),
		validation.Field(&in.Email, validation.Required, is.EmailFormat),
		validation.Field(&in.Password, validation.Required, validation.Length(6, 72)),
		validation.Field(&in.Role, validation.In(models.RoleStudent, models.RoleInstructor)),
	)
}

// Session is a freshly issued token together with its owner.
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Role = strings.TrimSpace(in.Role)
	if err := in.Validate(); err != nil {
		return nil, validationFrom(err)
	}
	if in.Role == "" {
		in.Role = models.RoleStudent
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &models.User{Username: in.Username, Email: in.Email, PasswordHash: hash, Role: in.Role}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.users.CreateUser(sctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return nil, &ConflictError{Message: "username or email already registered"}
		}
		return nil, &PersistenceError{Op: "create user", Err: err}
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID), zap.String("role", u.Role))
	return s.issue(u)
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.EmailFormat),
		validation.Field(&in.Password, validation.Required),
	); err != nil {
		return nil, validationFrom(err)
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	u, err := s.users.FindUserByEmail(sctx, in.Email)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, &PersistenceError{Op: "find user", Err: err}
	}
	if !utils.CheckPassword(u.PasswordHash, in.Password) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(u)
}

func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	u, err := s.users.FindUserByID(sctx, userID)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, &NotFoundError{Resource: "user", ID: userID}
	}
	if err != nil {
		return nil, &PersistenceError{Op: "find user", Err: err}
	}
	return u, nil
}

// Verify parses a token issued by this service.
func (s *AuthService) Verify(token string) (*utils.Claims, error) {
	return utils.ParseToken(s.cfg.Secret, token)
}

func (s *AuthService) issue(u *models.User) (*Session, error) {
	token, err := utils.GenerateToken(s.cfg.Secret, u.ID, u.Username, u.Role, s.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: u}, nil
}
