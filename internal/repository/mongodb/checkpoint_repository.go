package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Ensure implementation satisfies interface at compile time
var _ repository.CheckpointRepository = (*CheckpointRepositoryImpl)(nil)

const pollStateKey = "trade_poll_state"

// CheckpointRepositoryImpl persists the trade client's poll state blob so
// sent-offer tracking can be restored after a restart.
type CheckpointRepositoryImpl struct {
	checkpoints *mongo.Collection
}

func NewCheckpointRepository(c *Collections) repository.CheckpointRepository {
	return &CheckpointRepositoryImpl{checkpoints: c.Checkpoints}
}

type checkpointDoc struct {
	ID        string    `bson:"_id"`
	Blob      []byte    `bson:"blob"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (r *CheckpointRepositoryImpl) Load(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	doc := &checkpointDoc{}
	err := r.checkpoints.FindOne(ctx, bson.M{"_id": pollStateKey}).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return doc.Blob, nil
}

func (r *CheckpointRepositoryImpl) Save(ctx context.Context, blob []byte) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.checkpoints.ReplaceOne(ctx,
		bson.M{"_id": pollStateKey},
		checkpointDoc{ID: pollStateKey, Blob: blob, UpdatedAt: time.Now().UTC()},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
