package mongo

import (
	"context"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/platform/apperr"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func normalizeItem(item *domain.QueueItem) {
	item.Event.Data = domain.NormalizeMap(item.Event.Data)
}

func (s *Store) InsertQueueItem(ctx context.Context, item domain.QueueItem) (domain.QueueItem, bool, error) {
	_, err := s.queue.InsertOne(ctx, item)
	if err == nil {
		return item, true, nil
	}
	if !driver.IsDuplicateKeyError(err) {
		return domain.QueueItem{}, false, err
	}
	var existing domain.QueueItem
	if err := s.queue.FindOne(ctx, bson.M{"fingerprint": item.Fingerprint}).Decode(&existing); err != nil {
		return domain.QueueItem{}, false, err
	}
	normalizeItem(&existing)
	return existing, false, nil
}

// ClaimNext relies on findOneAndUpdate being atomic per document.
func (s *Store) ClaimNext(ctx context.Context, workerID string, now, staleBefore time.Time) (*domain.QueueItem, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{
			"status":      bson.M{"$in": bson.A{domain.QueuePending, domain.QueueFailed}},
			"availableAt": bson.M{"$lte": now},
		},
		bson.M{
			"status":    domain.QueueProcessing,
			"claimedAt": bson.M{"$lt": staleBefore},
		},
	}}
	update := bson.M{
		"$set": bson.M{
			"status":    domain.QueueProcessing,
			"claimedBy": workerID,
			"claimedAt": now,
			"updatedAt": now,
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "availableAt", Value: 1}, {Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)

	var item domain.QueueItem
	err := s.queue.FindOneAndUpdate(ctx, filter, update, opts).Decode(&item)
	if err == driver.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	normalizeItem(&item)
	return &item, nil
}

func (s *Store) finish(ctx context.Context, id uuid.UUID, workerID string, run domain.RunLog, set bson.M) error {
	update := bson.M{
		"$set":  set,
		"$unset": bson.M{"claimedBy": "", "claimedAt": ""},
		"$push": bson.M{"actionLog": run},
	}
	res, err := s.queue.UpdateOne(ctx,
		bson.M{"_id": id, "claimedBy": workerID, "status": domain.QueueProcessing},
		update,
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.queue.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("queue item not found")
	}
	return domain.ErrClaimLost
}

func (s *Store) ExtendClaim(ctx context.Context, id uuid.UUID, workerID string, now time.Time) error {
	res, err := s.queue.UpdateOne(ctx,
		bson.M{"_id": id, "claimedBy": workerID, "status": domain.QueueProcessing},
		bson.M{"$set": bson.M{"claimedAt": now, "updatedAt": now}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID, workerID string, run domain.RunLog, now time.Time) error {
	return s.finish(ctx, id, workerID, run, bson.M{
		"status":      domain.QueueCompleted,
		"completedAt": now,
		"lastError":   nil,
		"updatedAt":   now,
	})
}

func (s *Store) MarkRetry(ctx context.Context, id uuid.UUID, workerID string, run domain.RunLog, availableAt, now time.Time) error {
	return s.finish(ctx, id, workerID, run, bson.M{
		"status":      domain.QueueFailed,
		"availableAt": availableAt,
		"lastError":   run.Error,
		"updatedAt":   now,
	})
}

func (s *Store) MarkDeadLettered(ctx context.Context, id uuid.UUID, workerID string, run domain.RunLog, now time.Time) error {
	return s.finish(ctx, id, workerID, run, bson.M{
		"status":    domain.QueueDeadLettered,
		"lastError": run.Error,
		"updatedAt": now,
	})
}

func (s *Store) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.queue.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": bson.A{domain.QueueFailed, domain.QueueDeadLettered}}},
		bson.M{"$set": bson.M{
			"status":      domain.QueuePending,
			"attempts":    0,
			"availableAt": now,
			"updatedAt":   now,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.queue.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("queue item not found")
	}
	return apperr.Conflict("only failed or dead-lettered items can be requeued")
}

func (s *Store) GetQueueItem(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	var item domain.QueueItem
	if err := s.queue.FindOne(ctx, bson.M{"_id": id}).Decode(&item); err != nil {
		return nil, notFound(err, "queue item")
	}
	normalizeItem(&item)
	return &item, nil
}

func (s *Store) ListQueueItems(ctx context.Context, filter domain.QueueFilter) ([]domain.QueueItem, error) {
	q := bson.M{}
	if filter.LocationID != "" {
		q["locationId"] = filter.LocationID
	}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if filter.RuleID != nil {
		q["ruleId"] = *filter.RuleID
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cur, err := s.queue.Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	var items []domain.QueueItem
	if err := cur.All(ctx, &items); err != nil {
		return nil, err
	}
	for i := range items {
		normalizeItem(&items[i])
	}
	return items, nil
}
