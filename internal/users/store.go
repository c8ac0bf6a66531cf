package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"user-service/internal/auth"
)

// User is the accounts table row.
type User struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	Username     string `gorm:"size:80;uniqueIndex;not null"`
	Email        string `gorm:"size:120;uniqueIndex;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Role         string `gorm:"size:20;not null;default:customer"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (User) TableName() string { return "users" }

// Open connects to Postgres. TranslateError is required so duplicate
// keys surface as [gorm.ErrDuplicatedKey] across drivers.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the users table. Run out of band, not on
// service boot.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{})
}

// Store implements [auth.CredentialStore] on a gorm connection.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, account *auth.Account) error {
	row := User{
		ID:           account.ID,
		Username:     account.Username,
		Email:        account.Email,
		PasswordHash: account.PasswordHash,
		Role:         account.Role,
		CreatedAt:    account.CreatedAt,
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return auth.ErrAccountExists
		}
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

func (s *Store) ByUsername(ctx context.Context, username string) (*auth.Account, error) {
	var row User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user by username: %w", err)
	}
	return toAccount(&row), nil
}

func (s *Store) ByID(ctx context.Context, id string) (*auth.Account, error) {
	var row User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user by id: %w", err)
	}
	return toAccount(&row), nil
}

func toAccount(row *User) *auth.Account {
	return &auth.Account{
		ID:           row.ID,
		Username:     row.Username,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		Role:         row.Role,
		CreatedAt:    row.CreatedAt,
	}
}
