// Package authkitmongo backs the user directory with MongoDB for
// deployments that keep profiles in a document store.
package authkitmongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/safelane/sauth/internal/authkit"
)

const usersCollectionName = "users"

// Directory implements authkit.UserDirectory over a MongoDB collection with
// a unique index on provider_id.
type Directory struct {
	client *mongo.Client
	users  *mongo.Collection
}

type profileDocument struct {
	ProviderID  string     `bson:"provider_id"`
	Email       string     `bson:"email"`
	DisplayName string     `bson:"display_name"`
	AvatarURL   string     `bson:"avatar_url,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	LastLoginAt *time.Time `bson:"last_login_at,omitempty"`
}

func (document profileDocument) toProfile() authkit.UserProfile {
	return authkit.UserProfile{
		ProviderID:  document.ProviderID,
		Email:       document.Email,
		DisplayName: document.DisplayName,
		AvatarURL:   document.AvatarURL,
		CreatedAt:   document.CreatedAt,
		LastLoginAt: document.LastLoginAt,
	}
}

// New connects to MongoDB and ensures the provider_id unique index.
func New(ctx context.Context, mongoURI string, databaseName string) (*Directory, error) {
	client, connectErr := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if connectErr != nil {
		return nil, fmt.Errorf("mongo_directory.connect: %w", connectErr)
	}
	users := client.Database(databaseName).Collection(usersCollectionName)
	_, indexErr := users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "provider_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if indexErr != nil {
		return nil, fmt.Errorf("mongo_directory.ensure_index: %w", indexErr)
	}
	return &Directory{client: client, users: users}, nil
}

// UpsertLogin runs a single atomic FindOneAndUpdate: the filter keys on
// provider_id, $setOnInsert pins created_at on first sight, and $set rewrites
// the mutable fields on every login.
func (directory *Directory) UpsertLogin(ctx context.Context, claims authkit.IdentityClaims, now time.Time) (authkit.UserProfile, error) {
	if claims.ProviderID == "" {
		return authkit.UserProfile{}, fmt.Errorf("mongo_directory.upsert: provider id must be non-empty")
	}
	filter := bson.M{"provider_id": claims.ProviderID}
	update := bson.M{
		"$set": bson.M{
			"email":         claims.Email,
			"display_name":  claims.DisplayName,
			"avatar_url":    claims.AvatarURL,
			"last_login_at": now.UTC(),
		},
		"$setOnInsert": bson.M{
			"created_at": now.UTC(),
		},
	}
	result := directory.users.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After))
	var document profileDocument
	if decodeErr := result.Decode(&document); decodeErr != nil {
		return authkit.UserProfile{}, fmt.Errorf("mongo_directory.upsert: %w", authkit.ErrDirectoryUnavailable)
	}
	return document.toProfile(), nil
}

// FindByProviderID returns the stored profile, or ErrProfileNotFound.
func (directory *Directory) FindByProviderID(ctx context.Context, providerID string) (authkit.UserProfile, error) {
	var document profileDocument
	findErr := directory.users.FindOne(ctx, bson.M{"provider_id": providerID}).Decode(&document)
	if findErr != nil {
		if errors.Is(findErr, mongo.ErrNoDocuments) {
			return authkit.UserProfile{}, fmt.Errorf("mongo_directory.find: %w", authkit.ErrProfileNotFound)
		}
		return authkit.UserProfile{}, fmt.Errorf("mongo_directory.find: %w", authkit.ErrDirectoryUnavailable)
	}
	return document.toProfile(), nil
}

// Ping checks server connectivity with a short deadline.
func (directory *Directory) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if pingErr := directory.client.Ping(pingCtx, nil); pingErr != nil {
		return fmt.Errorf("mongo_directory.ping: %w", authkit.ErrDirectoryUnavailable)
	}
	return nil
}

// Close disconnects the underlying client.
func (directory *Directory) Close(ctx context.Context) error {
	return directory.client.Disconnect(ctx)
}
