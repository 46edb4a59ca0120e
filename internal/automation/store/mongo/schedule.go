package mongo

import (
	"context"
	"strings"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/schedule"
	"fieldservice_backend/platform/apperr"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type anchorDoc struct {
	ID         string     `bson:"_id"`
	LocationID string     `bson:"locationId"`
	EntityID   string     `bson:"entityId"`
	Field      string     `bson:"field"`
	Time       *time.Time `bson:"time"`
	Version    int64      `bson:"version"`
	EventAt    time.Time  `bson:"eventAt"`
	UpdatedAt  time.Time  `bson:"updatedAt"`
}

func (d anchorDoc) anchor(key domain.AnchorKey) domain.Anchor {
	a := domain.Anchor{Key: key, Version: d.Version, EventAt: d.EventAt.UTC()}
	if d.Time != nil {
		a.Time = d.Time.UTC()
	}
	return a
}

func anchorID(key domain.AnchorKey) string {
	return strings.Join([]string{key.LocationID, key.EntityID, key.Field}, "|")
}

// anchorFilter matches the anchor only when no later event wrote it.
func anchorFilter(key domain.AnchorKey, eventAt time.Time) bson.M {
	return bson.M{
		"_id": anchorID(key),
		"$or": bson.A{
			bson.M{"eventAt": bson.M{"$lte": eventAt}},
			bson.M{"eventAt": bson.M{"$exists": false}},
		},
	}
}

// anchorUpdate is a pipeline update. bump is evaluated against the stored document and
// decides whether the version moves.
func anchorUpdate(key domain.AnchorKey, t *time.Time, eventAt time.Time, bump bson.M) bson.A {
	return bson.A{bson.M{"$set": bson.M{
		"locationId": key.LocationID,
		"entityId":   key.EntityID,
		"field":      key.Field,
		"time":       t,
		"eventAt":    eventAt,
		"updatedAt":  time.Now().UTC(),
		"version": bson.M{"$cond": bson.A{
			bump,
			bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$version", 0}}, 1}},
			"$version",
		}},
	}}}
}

// writeAnchor upserts through the ordering filter. A filter miss on an existing anchor
// collides on _id, which means a later event owns it.
func (s *Store) writeAnchor(ctx context.Context, key domain.AnchorKey, eventAt time.Time, update bson.A) (domain.Anchor, bool, error) {
	var doc anchorDoc
	err := s.anchors.FindOneAndUpdate(ctx,
		anchorFilter(key, eventAt),
		update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.anchor(key), true, nil
	}
	if !driver.IsDuplicateKeyError(err) {
		return domain.Anchor{}, false, err
	}
	current, err := s.GetAnchor(ctx, key)
	if err != nil {
		return domain.Anchor{}, false, err
	}
	if current == nil {
		return domain.Anchor{}, false, apperr.Internal("anchor vanished during upsert")
	}
	return *current, false, nil
}

// UpsertAnchor bumps the version only when the time moves.
func (s *Store) UpsertAnchor(ctx context.Context, key domain.AnchorKey, t, eventAt time.Time) (domain.Anchor, bool, error) {
	t, eventAt = t.UTC(), eventAt.UTC()
	moved := bson.M{"$ne": bson.A{bson.M{"$ifNull": bson.A{"$time", nil}}, t}}
	return s.writeAnchor(ctx, key, eventAt, anchorUpdate(key, &t, eventAt, moved))
}

// InvalidateAnchor bumps the version unless the anchor was already cleared. A new
// document starts at version 1.
func (s *Store) InvalidateAnchor(ctx context.Context, key domain.AnchorKey, eventAt time.Time) (domain.Anchor, bool, error) {
	eventAt = eventAt.UTC()
	set := bson.M{"$or": bson.A{
		bson.M{"$ne": bson.A{bson.M{"$ifNull": bson.A{"$time", nil}}, nil}},
		bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{"$version", nil}}, nil}},
	}}
	return s.writeAnchor(ctx, key, eventAt, anchorUpdate(key, nil, eventAt, set))
}

func (s *Store) GetAnchor(ctx context.Context, key domain.AnchorKey) (*domain.Anchor, error) {
	var doc anchorDoc
	err := s.anchors.FindOne(ctx, bson.M{"_id": anchorID(key)}).Decode(&doc)
	if err == driver.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a := doc.anchor(key)
	return &a, nil
}

func normalizeTrigger(t *domain.ScheduledTrigger) {
	t.Event.Data = domain.NormalizeMap(t.Event.Data)
}

func (s *Store) InsertTrigger(ctx context.Context, t domain.ScheduledTrigger) (bool, error) {
	_, err := s.triggers.InsertOne(ctx, t)
	if driver.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) CancelTriggers(ctx context.Context, key domain.AnchorKey, beforeVersion int64, now time.Time) (int, error) {
	res, err := s.triggers.UpdateMany(ctx,
		bson.M{
			"locationId":    key.LocationID,
			"entityId":      key.EntityID,
			"anchorField":   key.Field,
			"anchorVersion": bson.M{"$lt": beforeVersion},
			"fired":         false,
		},
		bson.M{"$set": bson.M{"fired": true, "cancelled": true, "firedAt": now}},
	)
	if err != nil {
		return 0, err
	}
	return int(res.ModifiedCount), nil
}

func (s *Store) ListDueTriggers(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTrigger, error) {
	opts := options.Find().SetSort(bson.D{{Key: "fireAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return s.findTriggers(ctx, bson.M{"fired": false, "fireAt": bson.M{"$lte": now}}, opts)
}

func (s *Store) MarkTriggerFired(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := s.triggers.UpdateOne(ctx,
		bson.M{"_id": id, "fired": false},
		bson.M{"$set": bson.M{"fired": true, "firedAt": now}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (s *Store) ReleaseTrigger(ctx context.Context, id uuid.UUID) error {
	res, err := s.triggers.UpdateOne(ctx,
		bson.M{"_id": id, "cancelled": false},
		bson.M{"$set": bson.M{"fired": false}, "$unset": bson.M{"firedAt": ""}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.triggers.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("trigger not found")
	}
	return nil
}

func (s *Store) GetTrigger(ctx context.Context, id uuid.UUID) (*domain.ScheduledTrigger, error) {
	var t domain.ScheduledTrigger
	err := s.triggers.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err == driver.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	normalizeTrigger(&t)
	return &t, nil
}

func (s *Store) ListTriggers(ctx context.Context, filter schedule.TriggerFilter) ([]domain.ScheduledTrigger, error) {
	q := bson.M{}
	if filter.LocationID != "" {
		q["locationId"] = filter.LocationID
	}
	if filter.EntityID != "" {
		q["entityId"] = filter.EntityID
	}
	if filter.RuleID != nil {
		q["ruleId"] = *filter.RuleID
	}
	if filter.Pending {
		q["fired"] = false
	}
	opts := options.Find().SetSort(bson.D{{Key: "fireAt", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return s.findTriggers(ctx, q, opts)
}

func (s *Store) findTriggers(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.ScheduledTrigger, error) {
	cur, err := s.triggers.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []domain.ScheduledTrigger
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for i := range out {
		normalizeTrigger(&out[i])
	}
	return out, nil
}

type cursorDoc struct {
	RuleID    uuid.UUID `bson:"_id"`
	NextRunAt time.Time `bson:"nextRunAt"`
}

func (s *Store) GetRecurringCursor(ctx context.Context, ruleID uuid.UUID) (*domain.RecurringCursor, error) {
	var doc cursorDoc
	err := s.cursors.FindOne(ctx, bson.M{"_id": ruleID}).Decode(&doc)
	if err == driver.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.RecurringCursor{RuleID: ruleID, NextRunAt: doc.NextRunAt.UTC()}, nil
}

func (s *Store) AdvanceRecurringCursor(ctx context.Context, ruleID uuid.UUID, expected *time.Time, next time.Time) (bool, error) {
	if expected == nil {
		_, err := s.cursors.InsertOne(ctx, cursorDoc{RuleID: ruleID, NextRunAt: next.UTC()})
		if driver.IsDuplicateKeyError(err) {
			return false, nil
		}
		return err == nil, err
	}
	res, err := s.cursors.UpdateOne(ctx,
		bson.M{"_id": ruleID, "nextRunAt": expected.UTC()},
		bson.M{"$set": bson.M{"nextRunAt": next.UTC()}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}
