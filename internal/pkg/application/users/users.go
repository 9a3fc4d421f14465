package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

var ErrUserAlreadyExists = fmt.Errorf("username or email already exists")
var ErrInvalidCredentials = fmt.Errorf("invalid username or password")
var ErrInvalidUser = fmt.Errorf("invalid user")

//go:generate moq -rm -out users_mock.go . UserService

type UserService interface {
	Register(ctx context.Context, req types.RegisterRequest) (types.User, error)
	Login(ctx context.Context, req types.LoginRequest) (types.LoginResponse, error)
}

type UserStorage interface {
	AddUser(ctx context.Context, user types.User) (types.User, error)
	GetUserByUsername(ctx context.Context, username string) (types.User, error)
}

type TokenIssuer interface {
	Issue(user types.User) (string, error)
}

type userService struct {
	storage  UserStorage
	tokens   TokenIssuer
	validate *validator.Validate
	cost     int
}

func New(storage UserStorage, tokens TokenIssuer) UserService {
	return &userService{
		storage:  storage,
		tokens:   tokens,
		validate: validator.New(),
		cost:     bcrypt.DefaultCost,
	}
}

func (s *userService) Register(ctx context.Context, req types.RegisterRequest) (types.User, error) {
	if err := s.validate.Struct(req); err != nil {
		return types.User{}, fmt.Errorf("%w: %s", ErrInvalidUser, err.Error())
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.storage.AddUser(ctx, types.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    types.NewTimestamp(time.Now()),
	})
	if errors.Is(err, database.ErrAlreadyExists) {
		return types.User{}, ErrUserAlreadyExists
	}
	if err != nil {
		return types.User{}, err
	}

	logger := logging.GetLoggerFromContext(ctx)

	logger.Info().Str("userID", user.ID).Msg("user registered")

	return user, nil
}

func (s *userService) Login(ctx context.Context, req types.LoginRequest) (types.LoginResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return types.LoginResponse{}, ErrInvalidCredentials
	}

	user, err := s.storage.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, database.ErrNotFound) {
		return types.LoginResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return types.LoginResponse{}, err
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return types.LoginResponse{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return types.LoginResponse{}, fmt.Errorf("failed to issue token: %w", err)
	}

	return types.LoginResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
	}, nil
}
