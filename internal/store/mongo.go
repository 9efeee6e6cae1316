package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"trading-engine/internal/models"
)

// Compile-time interface check.
var _ Store = (*MongoStore)(nil)

// StateCollection holds one document per state slice, keyed by slice name.
const StateCollection = "state"

// MongoStore persists state slices as documents in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type stocksDocument struct {
	ID   string         `bson:"_id"`
	Data []models.Stock `bson:"data"`
}

type userDocument struct {
	ID   string      `bson:"_id"`
	Data models.User `bson:"data"`
}

type notificationsDocument struct {
	ID   string                `bson:"_id"`
	Data []models.Notification `bson:"data"`
}

type settingsDocument struct {
	ID   string          `bson:"_id"`
	Data models.Settings `bson:"data"`
}

// NewMongoStore uses collection for state documents. The store owns client
// and disconnects it on Close.
func NewMongoStore(client *mongo.Client, collection *mongo.Collection) *MongoStore {
	return &MongoStore{
		client:     client,
		collection: collection,
	}
}

func (s *MongoStore) Load(ctx context.Context) (*models.State, error) {
	state := &models.State{}

	var stocks stocksDocument
	found, err := s.find(ctx, KeyStocks, &stocks)
	if err != nil {
		return nil, err
	}
	if found {
		state.Stocks = stocks.Data
		if state.Stocks == nil {
			state.Stocks = []models.Stock{}
		}
	}

	var user userDocument
	if found, err = s.find(ctx, KeyUser, &user); err != nil {
		return nil, err
	}
	if found {
		normalizeUser(&user.Data)
		state.User = &user.Data
	}

	var notifications notificationsDocument
	if found, err = s.find(ctx, KeyNotifications, &notifications); err != nil {
		return nil, err
	}
	if found {
		state.Notifications = notifications.Data
		if state.Notifications == nil {
			state.Notifications = []models.Notification{}
		}
	}

	var settings settingsDocument
	if found, err = s.find(ctx, KeySettings, &settings); err != nil {
		return nil, err
	}
	if found {
		state.Settings = &settings.Data
	}
	return state, nil
}

func (s *MongoStore) SaveStocks(ctx context.Context, stocks []models.Stock) error {
	return s.replace(ctx, KeyStocks, stocksDocument{ID: KeyStocks, Data: stocks})
}

func (s *MongoStore) SaveUser(ctx context.Context, user models.User) error {
	return s.replace(ctx, KeyUser, userDocument{ID: KeyUser, Data: user})
}

func (s *MongoStore) SaveNotifications(ctx context.Context, notifications []models.Notification) error {
	return s.replace(ctx, KeyNotifications, notificationsDocument{ID: KeyNotifications, Data: notifications})
}

func (s *MongoStore) SaveSettings(ctx context.Context, settings models.Settings) error {
	return s.replace(ctx, KeySettings, settingsDocument{ID: KeySettings, Data: settings})
}

// Close disconnects the MongoDB client.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) find(ctx context.Context, key string, out interface{}) (bool, error) {
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	return true, nil
}

func (s *MongoStore) replace(ctx context.Context, key string, doc interface{}) error {
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// BSON decodes empty arrays saved as null back to nil; the rest of the
// engine expects empty slices.
func normalizeUser(u *models.User) {
	if u.Holdings == nil {
		u.Holdings = []models.Holding{}
	}
	if u.HoldingHistory == nil {
		u.HoldingHistory = []models.HoldingHistory{}
	}
	if u.Orders == nil {
		u.Orders = []models.Order{}
	}
	if u.Transactions == nil {
		u.Transactions = []models.Transaction{}
	}
}
