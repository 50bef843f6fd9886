package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sat-14/Crypto-bot/internal/model"
	"github.com/Sat-14/Crypto-bot/internal/repository"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Ensure implementation satisfies interface at compile time
var _ repository.UserRepository = (*UserRepositoryImpl)(nil)

// UserRepositoryImpl is the document-store implementation of UserRepository.
// Balances are stored as doubles so the $inc operator stays atomic; the
// decimal boundary lives here and nowhere else.
type UserRepositoryImpl struct {
	users *mongo.Collection
}

func NewUserRepository(c *Collections) repository.UserRepository {
	return &UserRepositoryImpl{users: c.Users}
}

type userDoc struct {
	AccountID string    `bson:"account_id"`
	Balance   float64   `bson:"balance"`
	TradeLink string    `bson:"trade_link,omitempty"`
	Banned    bool      `bson:"banned,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d *userDoc) toModel() *model.User {
	return &model.User{
		AccountID: d.AccountID,
		Balance:   model.RoundStored(decimal.NewFromFloat(d.Balance)),
		TradeLink: d.TradeLink,
		Banned:    d.Banned,
		CreatedAt: d.CreatedAt,
	}
}

func (r *UserRepositoryImpl) EnsureUser(ctx context.Context, accountID string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res := r.users.FindOneAndUpdate(ctx,
		bson.M{"account_id": accountID},
		bson.M{"$setOnInsert": userDoc{AccountID: accountID, Balance: 0, CreatedAt: time.Now().UTC()}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	doc := &userDoc{}
	if err := res.Decode(doc); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return doc.toModel(), nil
}

func (r *UserRepositoryImpl) GetUser(ctx context.Context, accountID string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	doc := &userDoc{}
	err := r.users.FindOne(ctx, bson.M{"account_id": accountID}).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return doc.toModel(), nil
}

// AdjustBalance is the single balance mutation path: one atomic
// find-and-increment, no read-then-write window.
func (r *UserRepositoryImpl) AdjustBalance(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res := r.users.FindOneAndUpdate(ctx,
		bson.M{"account_id": accountID},
		bson.M{"$inc": bson.M{"balance": model.RoundStored(delta).InexactFloat64()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After).
			SetProjection(bson.M{"balance": 1}),
	)

	doc := &userDoc{}
	if err := res.Decode(doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return decimal.Zero, model.ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to adjust balance: %w", err)
	}
	return model.RoundStored(decimal.NewFromFloat(doc.Balance)), nil
}

func (r *UserRepositoryImpl) SetTradeLink(ctx context.Context, accountID, tradeLink string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.users.UpdateOne(ctx,
		bson.M{"account_id": accountID},
		bson.M{"$set": bson.M{"trade_link": tradeLink}},
	)
	if err != nil {
		return fmt.Errorf("failed to set trade link: %w", err)
	}
	if res.MatchedCount == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

func (r *UserRepositoryImpl) SetBanned(ctx context.Context, accountID string, banned bool) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.users.UpdateOne(ctx,
		bson.M{"account_id": accountID},
		bson.M{"$set": bson.M{"banned": banned}},
	)
	if err != nil {
		return fmt.Errorf("failed to set banned flag: %w", err)
	}
	if res.MatchedCount == 0 {
		return model.ErrUserNotFound
	}
	return nil
}
