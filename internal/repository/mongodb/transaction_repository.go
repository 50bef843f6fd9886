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
var _ repository.TransactionRepository = (*TransactionRepositoryImpl)(nil)

type TransactionRepositoryImpl struct {
	transactions *mongo.Collection
}

func NewTransactionRepository(c *Collections) repository.TransactionRepository {
	return &TransactionRepositoryImpl{transactions: c.Transactions}
}

type transactionDoc struct {
	ID                string    `bson:"_id"`
	AccountID         string    `bson:"account_id"`
	Type              string    `bson:"type"`
	Status            string    `bson:"status"`
	Amount            float64   `bson:"amount"`
	Difference        float64   `bson:"difference"`
	OfferID           string    `bson:"offer_id,omitempty"`
	PaidViaCrypto     float64   `bson:"paid_via_crypto,omitempty"`
	Currency          string    `bson:"currency,omitempty"`
	Address           string    `bson:"address,omitempty"`
	BatchWithdrawalID string    `bson:"batch_withdrawal_id,omitempty"`
	Refunded          bool      `bson:"refunded,omitempty"`
	Error             string    `bson:"error,omitempty"`
	CreatedAt         time.Time `bson:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

func toDoc(t *model.Transaction) *transactionDoc {
	return &transactionDoc{
		ID:                t.ID,
		AccountID:         t.Owner,
		Type:              t.Type.String(),
		Status:            t.Status.String(),
		Amount:            model.RoundStored(t.Amount).InexactFloat64(),
		Difference:        model.RoundStored(t.Difference).InexactFloat64(),
		OfferID:           t.OfferID,
		PaidViaCrypto:     model.RoundStored(t.PaidViaCrypto).InexactFloat64(),
		Currency:          t.Currency,
		Address:           t.Address,
		BatchWithdrawalID: t.BatchWithdrawalID,
		Refunded:          t.Refunded,
		Error:             t.Error,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

func (d *transactionDoc) toModel() *model.Transaction {
	return &model.Transaction{
		ID:                d.ID,
		Owner:             d.AccountID,
		Type:              model.TransactionType(d.Type),
		Status:            model.TransactionStatus(d.Status),
		Amount:            model.RoundStored(decimal.NewFromFloat(d.Amount)),
		Difference:        model.RoundStored(decimal.NewFromFloat(d.Difference)),
		OfferID:           d.OfferID,
		PaidViaCrypto:     model.RoundStored(decimal.NewFromFloat(d.PaidViaCrypto)),
		Currency:          d.Currency,
		Address:           d.Address,
		BatchWithdrawalID: d.BatchWithdrawalID,
		Refunded:          d.Refunded,
		Error:             d.Error,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func (r *TransactionRepositoryImpl) Insert(ctx context.Context, trans *model.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	now := time.Now().UTC()
	trans.CreatedAt = now
	trans.UpdatedAt = now
	if trans.Status == "" {
		trans.Status = model.StatusPending
	}
	// A freshly created record's difference defaults to its amount.
	if trans.Difference.IsZero() && !trans.Amount.IsZero() {
		trans.Difference = trans.Amount
	}

	if _, err := r.transactions.InsertOne(ctx, toDoc(trans)); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func patchToSet(patch repository.TransactionPatch) bson.M {
	set := bson.M{"updated_at": time.Now().UTC()}
	if patch.Status != nil {
		set["status"] = patch.Status.String()
	}
	if patch.Difference != nil {
		set["difference"] = model.RoundStored(*patch.Difference).InexactFloat64()
	}
	if patch.OfferID != nil {
		set["offer_id"] = *patch.OfferID
	}
	if patch.BatchWithdrawalID != nil {
		set["batch_withdrawal_id"] = *patch.BatchWithdrawalID
	}
	if patch.Refunded != nil {
		set["refunded"] = *patch.Refunded
	}
	if patch.Error != nil {
		set["error"] = *patch.Error
	}
	return set
}

func (r *TransactionRepositoryImpl) Update(ctx context.Context, id string, patch repository.TransactionPatch) (*model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res := r.transactions.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": patchToSet(patch)},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	doc := &transactionDoc{}
	if err := res.Decode(doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to update transaction: %w", err)
	}
	return doc.toModel(), nil
}

// UpdateIfPending is the terminal-transition gate: the filter matches
// only while the record is pending, so concurrent settlements resolve
// inside mongod and exactly one caller observes the transition.
func (r *TransactionRepositoryImpl) UpdateIfPending(ctx context.Context, id string, patch repository.TransactionPatch) (*model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res := r.transactions.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": model.StatusPending.String()},
		bson.M{"$set": patchToSet(patch)},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	doc := &transactionDoc{}
	if err := res.Decode(doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Distinguish a lost race from a missing record. The second
			// read is only for error classification.
			if _, gerr := r.GetByID(ctx, id); gerr != nil {
				return nil, gerr
			}
			return nil, model.ErrAlreadySettled
		}
		return nil, fmt.Errorf("failed to settle transaction: %w", err)
	}
	return doc.toModel(), nil
}

func (r *TransactionRepositoryImpl) ClaimRefund(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res := r.transactions.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "refunded": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{
			"refunded":   true,
			"status":     model.StatusFailed.String(),
			"updated_at": time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	doc := &transactionDoc{}
	if err := res.Decode(doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if _, gerr := r.GetByID(ctx, id); gerr != nil {
				return nil, gerr
			}
			return nil, model.ErrAlreadyRefunded
		}
		return nil, fmt.Errorf("failed to claim refund: %w", err)
	}
	return doc.toModel(), nil
}

func (r *TransactionRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	doc := &transactionDoc{}
	err := r.transactions.FindOne(ctx, bson.M{"_id": id}).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return doc.toModel(), nil
}

func (r *TransactionRepositoryImpl) GetByBatchWithdrawalID(ctx context.Context, batchID string) (*model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	doc := &transactionDoc{}
	err := r.transactions.FindOne(ctx, bson.M{
		"type":                model.TypeWithdrawal.String(),
		"batch_withdrawal_id": batchID,
	}).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction by batch id: %w", err)
	}
	return doc.toModel(), nil
}

func (r *TransactionRepositoryImpl) ListByOwner(ctx context.Context, accountID string, limit int) ([]*model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := r.transactions.Find(ctx, bson.M{"account_id": accountID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer cur.Close(ctx)

	var docs []*transactionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to scan transactions: %w", err)
	}

	out := make([]*model.Transaction, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (r *TransactionRepositoryImpl) ListPending(ctx context.Context, transType model.TransactionType, olderThan time.Time) ([]*model.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	filter := bson.M{
		"status":     model.StatusPending.String(),
		"created_at": bson.M{"$lt": olderThan},
	}
	if transType != "" {
		filter["type"] = transType.String()
	}

	cur, err := r.transactions.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transactions: %w", err)
	}
	defer cur.Close(ctx)

	var docs []*transactionDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to scan pending transactions: %w", err)
	}

	out := make([]*model.Transaction, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}
