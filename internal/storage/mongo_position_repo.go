package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/arena-sync/internal/vec"
)

// MongoConfig contains connection settings for the MongoDB position repository.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. arena
	Collection string // e.g. positions
}

// MongoPositionRepo implements PositionRepo on MongoDB backend.
// One document per player, keyed by uid.
type MongoPositionRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type positionDoc struct {
	UID       int32     `bson:"uid"`
	X         float32   `bson:"x"`
	Y         float32   `bson:"y"`
	Z         float32   `bson:"z"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoPositionRepo establishes connection and returns repository.
func NewMongoPositionRepo(ctx context.Context, cfg MongoConfig) (*MongoPositionRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "arena"
	}
	if cfg.Collection == "" {
		cfg.Collection = "positions"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	repo := &MongoPositionRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}
	if err := repo.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return repo, nil
}

func (m *MongoPositionRepo) ensureIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "uid", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uid_unique"),
	})
	return err
}

func upsertModel(uid int32, pos vec.Vec3, now time.Time) *mongo.UpdateOneModel {
	return mongo.NewUpdateOneModel().
		SetFilter(bson.M{"uid": uid}).
		SetUpdate(bson.M{"$set": positionDoc{UID: uid, X: pos.X, Y: pos.Y, Z: pos.Z, UpdatedAt: now}}).
		SetUpsert(true)
}

// Save implements PositionRepo.
func (m *MongoPositionRepo) Save(ctx context.Context, uid int32, pos vec.Vec3) error {
	if err := validate(uid, pos); err != nil {
		return err
	}
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"uid": uid},
		bson.M{"$set": positionDoc{UID: uid, X: pos.X, Y: pos.Y, Z: pos.Z, UpdatedAt: time.Now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save position %d: %w", uid, err)
	}
	return nil
}

// Load implements PositionRepo.
func (m *MongoPositionRepo) Load(ctx context.Context, uid int32) (vec.Vec3, bool, error) {
	if err := validateUID(uid); err != nil {
		return vec.Vec3{}, false, err
	}
	var doc positionDoc
	err := m.collection.FindOne(ctx, bson.M{"uid": uid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return vec.Vec3{}, false, nil
	}
	if err != nil {
		return vec.Vec3{}, false, fmt.Errorf("load position %d: %w", uid, err)
	}
	return vec.Vec3{X: doc.X, Y: doc.Y, Z: doc.Z}, true, nil
}

// Delete implements PositionRepo.
func (m *MongoPositionRepo) Delete(ctx context.Context, uid int32) error {
	if err := validateUID(uid); err != nil {
		return err
	}
	res, err := m.collection.DeleteOne(ctx, bson.M{"uid": uid})
	if err != nil {
		return fmt.Errorf("delete position %d: %w", uid, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("position %d not found", uid)
	}
	return nil
}

// BatchSave upserts all positions in one unordered bulk write.
func (m *MongoPositionRepo) BatchSave(ctx context.Context, positions map[int32]vec.Vec3) error {
	if len(positions) == 0 {
		return nil
	}
	now := time.Now()
	models := make([]mongo.WriteModel, 0, len(positions))
	for uid, pos := range positions {
		if err := validate(uid, pos); err != nil {
			return err
		}
		models = append(models, upsertModel(uid, pos, now))
	}
	if _, err := m.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("batch save positions: %w", err)
	}
	return nil
}

// Close terminates connection.
func (m *MongoPositionRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
