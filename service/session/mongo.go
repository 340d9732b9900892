package session

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTier is the durable tier: one document per token, upserted with
// the full snapshot on every write-back.
type MongoTier struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type MongoConfig struct {
	URI      string
	Database string
}

func NewMongoTier(c MongoConfig) (*MongoTier, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.URI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "mongo ping")
	}
	return &MongoTier{
		client: client,
		coll:   client.Database(c.Database).Collection("sessions"),
	}, nil
}

func (t *MongoTier) Save(ctx context.Context, rec *Record) error {
	_, err := t.coll.ReplaceOne(ctx,
		bson.M{"token": rec.Token},
		rec,
		options.Replace().SetUpsert(true),
	)
	return errors.Wrap(err, "mongo save")
}

func (t *MongoTier) Load(ctx context.Context, token string) (*Record, error) {
	var rec Record
	err := t.coll.FindOne(ctx, bson.M{"token": token}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, "mongo load")
	}
	return &rec, nil
}

func (t *MongoTier) Delete(ctx context.Context, token string) error {
	_, err := t.coll.DeleteOne(ctx, bson.M{"token": token})
	return errors.Wrap(err, "mongo delete")
}

func (t *MongoTier) DeleteUser(ctx context.Context, userID string) (int, error) {
	res, err := t.coll.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, errors.Wrap(err, "mongo delete user")
	}
	return int(res.DeletedCount), nil
}

func (t *MongoTier) Clear(ctx context.Context) (int, error) {
	res, err := t.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, errors.Wrap(err, "mongo clear")
	}
	return int(res.DeletedCount), nil
}

func (t *MongoTier) Count(ctx context.Context) (int, error) {
	n, err := t.coll.CountDocuments(ctx, bson.M{})
	return int(n), errors.Wrap(err, "mongo count")
}

func (t *MongoTier) Close(ctx context.Context) error {
	return t.client.Disconnect(ctx)
}
