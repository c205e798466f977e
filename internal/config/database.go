package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type MongoDBClient struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewMongoDBClient connects to MongoDB, verifies the connection and ensures the
// unique indexes the identity collections depend on.
func NewMongoDBClient(lc fx.Lifecycle, cfg *Config, logger *zap.Logger) (*MongoDBClient, *mongo.Database, error) {
	if cfg.Mongo.URI == "" {
		return nil, nil, errors.New("config: mongo.uri (MONGO_URI) is not set")
	}
	clientOptions := options.Client().ApplyURI(cfg.Mongo.URI)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	logger.Info("Connected to MongoDB", zap.String("database", cfg.Mongo.Database))

	db := client.Database(cfg.Mongo.Database)

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			return EnsureIndexes(startCtx, db, logger)
		},
		OnStop: func(stopCtx context.Context) error {
			logger.Info("Closing MongoDB connection ...")
			return client.Disconnect(stopCtx)
		},
	})
	return &MongoDBClient{Client: client, Database: db}, db, nil
}

// uniqueIndexes lists collection -> field pairs that must be unique.
var uniqueIndexes = []struct {
	collection string
	field      string
}{
	{"operators", "email"},
	{"board_members", "roll_number"},
	{"board_members", "contact_email"},
}

// EnsureIndexes creates the unique indexes for identity records and the
// lookup indexes of the audit trail.
func EnsureIndexes(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	for _, idx := range uniqueIndexes {
		model := mongo.IndexModel{
			Keys:    bson.D{{Key: idx.field, Value: 1}},
			Options: options.Index().SetUnique(true),
		}
		if _, err := db.Collection(idx.collection).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create unique index %s.%s: %w", idx.collection, idx.field, err)
		}
	}

	activation := mongo.IndexModel{
		Keys:    bson.D{{Key: "activation_token", Value: 1}},
		Options: options.Index().SetSparse(true),
	}
	if _, err := db.Collection("board_members").Indexes().CreateOne(ctx, activation); err != nil {
		return fmt.Errorf("create activation token index: %w", err)
	}

	audit := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "category", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "actor_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := db.Collection("audit_logs").Indexes().CreateMany(ctx, audit); err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}

	logger.Info("MongoDB indexes verified")
	return nil
}
