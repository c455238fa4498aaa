package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"

	"github.com/SigNoz/storefront-api/internal/models"
	"github.com/SigNoz/storefront-api/internal/store"
)

// UserService handles user-related operations
type UserService struct {
	store store.Store
	log   *slog.Logger
}

// NewUserService creates a new user service
func NewUserService(st store.Store, log *slog.Logger) *UserService {
	return &UserService{
		store: st,
		log:   log.With("component", "user"),
	}
}

// CreateUser creates a new user
func (s *UserService) CreateUser(ctx context.Context, email, name string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	if err := validateName("name", name); err != nil {
		return nil, err
	}

	u := models.User{Email: email, Name: strings.TrimSpace(name)}
	if err := s.store.Queries().CreateUser(ctx, &u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, &ConflictError{Reason: "user already exists"}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.InfoContext(ctx, "user created", "user_id", u.ID)
	return &u, nil
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.store.Queries().GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Entity: "user", ID: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
