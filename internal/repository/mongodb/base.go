package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const queryTimeout = 5 * time.Second

// Collections groups the database handles used by the repositories.
type Collections struct {
	Users        *mongo.Collection
	Transactions *mongo.Collection
	Checkpoints  *mongo.Collection
}

func NewCollections(client *mongo.Client, dbName string) *Collections {
	db := client.Database(dbName)
	return &Collections{
		Users:        db.Collection("users"),
		Transactions: db.Collection("transactions"),
		Checkpoints:  db.Collection("checkpoints"),
	}
}

// EnsureIndexes creates the lookup indexes the repositories rely on.
func (c *Collections) EnsureIndexes(ctx context.Context) error {
	_, err := c.Users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "account_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = c.Transactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "batch_withdrawal_id", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "type", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	return err
}
