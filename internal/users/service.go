package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/cargo888/internal/apperr"
	"github.com/MarcoPoloResearchLab/cargo888/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew   = "users.service.new"
	opRegister     = "users.register"
	opAuthenticate = "users.authenticate"
	opGet          = "users.get"

	minPasswordLength = 8
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errInvalidEmail    = errors.New("email address is invalid")
	errShortPassword   = fmt.Errorf("password must have at least %d characters", minPasswordLength)
	errMissingName     = errors.New("name is required")
	errEmailTaken      = errors.New("email is already registered")
	errBadCredentials  = errors.New("invalid email or password")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database *gorm.DB
	Hasher   auth.PasswordHasher
	Logger   *zap.Logger
}

// Service registers and authenticates users.
type Service struct {
	db     *gorm.DB
	hasher auth.PasswordHasher
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Storage(opServiceNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, hasher: cfg.Hasher, logger: logger}, nil
}

// Register creates an account with a hashed password and a unique shipping mark.
func (s *Service) Register(ctx context.Context, request RegisterRequest) (User, error) {
	email, err := normalizeEmail(request.Email)
	if err != nil {
		return User{}, apperr.Validation(opRegister, "invalid_email", err)
	}
	if utf8.RuneCountInString(request.Password) < minPasswordLength {
		return User{}, apperr.Validation(opRegister, "short_password", errShortPassword)
	}
	name := normalize(request.Name)
	if name == "" {
		return User{}, apperr.Validation(opRegister, "missing_name", errMissingName)
	}

	hash, err := s.hasher.Hash(request.Password)
	if err != nil {
		return User{}, apperr.Storage(opRegister, "hash_failed", err)
	}

	var created User
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
			return apperr.Storage(opRegister, "email_lookup_failed", err)
		}
		if existing > 0 {
			return apperr.New(opRegister, "email_taken", apperr.KindConflict, errEmailTaken)
		}

		var marks []string
		if err := tx.Model(&User{}).Pluck("shipping_mark", &marks).Error; err != nil {
			return apperr.Storage(opRegister, "mark_lookup_failed", err)
		}
		taken := make(map[string]struct{}, len(marks))
		for _, mark := range marks {
			taken[strings.ToUpper(mark)] = struct{}{}
		}

		created = User{
			Email:        email,
			Name:         name,
			Phone:        normalize(request.Phone),
			City:         normalize(request.City),
			Country:      normalize(request.Country),
			PasswordHash: hash,
			ShippingMark: GenerateShippingMark(name, func(mark string) bool {
				_, ok := taken[mark]
				return ok
			}),
		}
		if err := tx.Create(&created).Error; err != nil {
			s.logError(opRegister, "user_insert_failed", err)
			return apperr.Storage(opRegister, "user_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return User{}, txErr
	}

	s.logger.Info("user registered",
		zap.Int64("user_id", created.ID),
		zap.String("shipping_mark", created.ShippingMark))
	return created, nil
}

// Authenticate returns the user whose email and password match.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return User{}, apperr.New(opAuthenticate, "invalid_credentials", apperr.KindUnauthorized, errBadCredentials)
	}

	var user User
	if err := s.db.WithContext(ctx).Where("email = ?", normalized).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, apperr.New(opAuthenticate, "invalid_credentials", apperr.KindUnauthorized, errBadCredentials)
		}
		return User{}, apperr.Storage(opAuthenticate, "user_select_failed", err)
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return User{}, apperr.New(opAuthenticate, "invalid_credentials", apperr.KindUnauthorized, errBadCredentials)
		}
		return User{}, apperr.Storage(opAuthenticate, "hash_compare_failed", err)
	}
	return user, nil
}

// Get reads a user by id.
func (s *Service) Get(ctx context.Context, userID int64) (User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, apperr.NotFound(opGet, "user_not_found", err)
		}
		return User{}, apperr.Storage(opGet, "user_select_failed", err)
	}
	return user, nil
}

func (s *Service) logError(operation, reason string, err error) {
	s.logger.Error("users service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err))
}

func normalizeEmail(value string) (string, error) {
	address, err := mail.ParseAddress(normalize(value))
	if err != nil {
		return "", errInvalidEmail
	}
	return strings.ToLower(address.Address), nil
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
