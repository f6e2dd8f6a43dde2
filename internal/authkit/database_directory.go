package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("user_directory.unsupported_dialect")

	errEmptyStoreURL       = errors.New("user_directory.empty_store_url")
	errSQLiteEmptyPath     = errors.New("user_directory.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("user_directory.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("user_directory.unsupported_no_scheme")
)

// DatabaseUserDirectory persists user profiles using GORM. The driver is
// selected by the store URL scheme: postgres:// or sqlite://.
type DatabaseUserDirectory struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (directory *DatabaseUserDirectory) Driver() string {
	return directory.driverLabel
}

type userProfileRecord struct {
	ProviderID    string `gorm:"column:provider_id;primaryKey"`
	Email         string `gorm:"column:email;not null"`
	DisplayName   string `gorm:"column:display_name;not null;default:''"`
	AvatarURL     string `gorm:"column:avatar_url;not null;default:''"`
	CreatedAtUnix int64  `gorm:"column:created_at_unix;not null"`
	LastLoginUnix int64  `gorm:"column:last_login_unix;not null;default:0"`
}

func (userProfileRecord) TableName() string {
	return "user_profiles"
}

func (record userProfileRecord) toProfile() UserProfile {
	profile := UserProfile{
		ProviderID:  record.ProviderID,
		Email:       record.Email,
		DisplayName: record.DisplayName,
		AvatarURL:   record.AvatarURL,
		CreatedAt:   time.Unix(record.CreatedAtUnix, 0).UTC(),
	}
	if record.LastLoginUnix != 0 {
		lastLogin := time.Unix(record.LastLoginUnix, 0).UTC()
		profile.LastLoginAt = &lastLogin
	}
	return profile
}

// NewDatabaseUserDirectory constructs a GORM-backed directory.
func NewDatabaseUserDirectory(ctx context.Context, storeURL string) (*DatabaseUserDirectory, error) {
	if strings.TrimSpace(storeURL) == "" {
		return nil, fmt.Errorf("user_directory.open: %w", errEmptyStoreURL)
	}
	dialector, driverLabel, err := resolveDialector(storeURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("user_directory.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&userProfileRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("user_directory.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseUserDirectory{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// UpsertLogin inserts the profile or, on a provider_id conflict, updates the
// mutable columns. created_at_unix survives conflicts, so first-sight wins.
func (directory *DatabaseUserDirectory) UpsertLogin(ctx context.Context, claims IdentityClaims, now time.Time) (UserProfile, error) {
	if claims.ProviderID == "" {
		return UserProfile{}, fmt.Errorf("user_directory.upsert.%s: provider id must be non-empty", directory.driverLabel)
	}
	record := userProfileRecord{
		ProviderID:    claims.ProviderID,
		Email:         claims.Email,
		DisplayName:   claims.DisplayName,
		AvatarURL:     claims.AvatarURL,
		CreatedAtUnix: now.Unix(),
		LastLoginUnix: now.Unix(),
	}
	err := directory.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "avatar_url", "last_login_unix"}),
	}).Create(&record).Error
	if err != nil {
		return UserProfile{}, fmt.Errorf("user_directory.upsert.%s: %w", directory.driverLabel, ErrDirectoryUnavailable)
	}
	var stored userProfileRecord
	if readErr := directory.db.WithContext(ctx).Where("provider_id = ?", claims.ProviderID).Take(&stored).Error; readErr != nil {
		return UserProfile{}, fmt.Errorf("user_directory.upsert.%s: %w", directory.driverLabel, ErrDirectoryUnavailable)
	}
	return stored.toProfile(), nil
}

// FindByProviderID returns the stored profile, or ErrProfileNotFound.
func (directory *DatabaseUserDirectory) FindByProviderID(ctx context.Context, providerID string) (UserProfile, error) {
	var stored userProfileRecord
	err := directory.db.WithContext(ctx).Where("provider_id = ?", providerID).Take(&stored).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserProfile{}, fmt.Errorf("user_directory.find.%s: %w", directory.driverLabel, ErrProfileNotFound)
		}
		return UserProfile{}, fmt.Errorf("user_directory.find.%s: %w", directory.driverLabel, ErrDirectoryUnavailable)
	}
	return stored.toProfile(), nil
}

// Ping checks connectivity against the underlying connection pool.
func (directory *DatabaseUserDirectory) Ping(ctx context.Context) error {
	sqlDB, dbErr := directory.db.DB()
	if dbErr != nil {
		return fmt.Errorf("user_directory.ping.%s: %w", directory.driverLabel, ErrDirectoryUnavailable)
	}
	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		return fmt.Errorf("user_directory.ping.%s: %w", directory.driverLabel, ErrDirectoryUnavailable)
	}
	return nil
}

func resolveDialector(storeURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(storeURL)
	if err != nil {
		return nil, "", fmt.Errorf("user_directory.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("user_directory.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(storeURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("user_directory.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("user_directory.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
