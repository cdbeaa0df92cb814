package notifymongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/notifykit/pkg/notify"
)

// TokenStore implements notify.TokenStore on the accounts collection. A
// missing account and an account without a token both read as empty.
type TokenStore struct {
	coll *mongo.Collection
}

// TokenStoreOption configures a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithTokensCollection overrides the accounts collection name, default
// "accounts".
func WithTokensCollection(name string) TokenStoreOption {
	return func(s *TokenStore) {
		if name != "" {
			s.coll = s.coll.Database().Collection(name)
		}
	}
}

// NewTokenStore creates a MongoDB-backed device token store.
func NewTokenStore(db *mongo.Database, opts ...TokenStoreOption) *TokenStore {
	s := &TokenStore{coll: db.Collection("accounts")}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *TokenStore) DeviceToken(ctx context.Context, userID string) (string, error) {
	var doc struct {
		DeviceToken string `bson:"device_token"`
	}

	err := s.coll.FindOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		options.FindOne().SetProjection(bson.D{{Key: "device_token", Value: 1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", fmt.Errorf("get device token: %w", err)
	}

	return doc.DeviceToken, nil
}

func (s *TokenStore) DeviceTokens(ctx context.Context, userIDs []string) (map[string]string, error) {
	if len(userIDs) == 0 {
		return map[string]string{}, nil
	}

	cursor, err := s.coll.Find(ctx,
		bson.D{
			{Key: "_id", Value: bson.D{{Key: "$in", Value: userIDs}}},
			{Key: "device_token", Value: bson.D{{Key: "$exists", Value: true}, {Key: "$nin", Value: bson.A{nil, ""}}}},
		},
		options.Find().SetProjection(bson.D{{Key: "device_token", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("get device tokens: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID          string `bson:"_id"`
		DeviceToken string `bson:"device_token"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("get device tokens: %w", err)
	}

	tokens := make(map[string]string, len(docs))
	for _, d := range docs {
		tokens[d.ID] = d.DeviceToken
	}

	return tokens, nil
}

func (s *TokenStore) ClearDeviceToken(ctx context.Context, userID, token string) error {
	// Conditional on the observed token so a token registered by a newer
	// login between send and clear survives.
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}, {Key: "device_token", Value: token}},
		bson.D{{Key: "$unset", Value: bson.D{{Key: "device_token", Value: ""}}}},
	)
	if err != nil {
		return fmt.Errorf("clear device token: %w", err)
	}
	return nil
}

func (s *TokenStore) ClearDeviceTokens(ctx context.Context, pairs []notify.TokenPair) error {
	if len(pairs) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, len(pairs))
	for i, p := range pairs {
		models[i] = mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: p.UserID}, {Key: "device_token", Value: p.Token}}).
			SetUpdate(bson.D{{Key: "$unset", Value: bson.D{{Key: "device_token", Value: ""}}}})
	}

	if _, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("clear device tokens: %w", err)
	}
	return nil
}
