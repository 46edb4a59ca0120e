// Package mongo implements the automation store on MongoDB. The client must be
// created with platform/mongo so uuid.UUID round-trips as a string.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/platform/apperr"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	rulesCollection    = "automation_rules"
	queueCollection    = "automation_queue"
	anchorsCollection  = "automation_anchors"
	triggersCollection = "automation_scheduled_triggers"
	cursorsCollection  = "automation_recurring_cursors"
	trackingCollection = "tracking_sessions"
)

// Store keeps each aggregate in its own collection.
type Store struct {
	rules    *driver.Collection
	queue    *driver.Collection
	anchors  *driver.Collection
	triggers *driver.Collection
	cursors  *driver.Collection
	tracking *driver.Collection
}

// New binds the store to db and ensures its indexes exist.
func New(ctx context.Context, db *driver.Database) (*Store, error) {
	s := &Store{
		rules:    db.Collection(rulesCollection),
		queue:    db.Collection(queueCollection),
		anchors:  db.Collection(anchorsCollection),
		triggers: db.Collection(triggersCollection),
		cursors:  db.Collection(cursorsCollection),
		tracking: db.Collection(trackingCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexSets := []struct {
		coll   *driver.Collection
		models []driver.IndexModel
	}{
		{s.rules, []driver.IndexModel{
			{Keys: bson.D{{Key: "locationId", Value: 1}, {Key: "trigger.type", Value: 1}, {Key: "isActive", Value: 1}}},
			{
				Keys: bson.D{{Key: "locationId", Value: 1}, {Key: "seedKey", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"seedKey": bson.M{"$type": "string"}}),
			},
		}},
		{s.queue, []driver.IndexModel{
			{Keys: bson.D{{Key: "fingerprint", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "availableAt", Value: 1}}},
			{Keys: bson.D{{Key: "locationId", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
		{s.triggers, []driver.IndexModel{
			{
				Keys:    bson.D{{Key: "ruleId", Value: 1}, {Key: "entityId", Value: 1}, {Key: "anchorVersion", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "fired", Value: 1}, {Key: "fireAt", Value: 1}}},
			{Keys: bson.D{{Key: "locationId", Value: 1}, {Key: "entityId", Value: 1}, {Key: "anchorField", Value: 1}}},
		}},
	}
	for _, set := range indexSets {
		if _, err := set.coll.Indexes().CreateMany(ctx, set.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", set.coll.Name(), err)
		}
	}
	return nil
}

// Close is a no-op; the client belongs to the composition root.
func (s *Store) Close() {}

func notFound(err error, what string) error {
	if errors.Is(err, driver.ErrNoDocuments) {
		return apperr.NotFound(what + " not found")
	}
	return err
}

// ---- rules

func normalizeRule(r *domain.Rule) {
	for i := range r.Conditions {
		r.Conditions[i].Value = domain.NormalizeValue(r.Conditions[i].Value)
	}
	for i := range r.Actions {
		r.Actions[i].Config = domain.NormalizeMap(r.Actions[i].Config)
	}
}

func (s *Store) CreateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	rule.ExecutionCount, rule.SuccessCount, rule.FailureCount = 0, 0, 0
	if rule.Conditions == nil {
		rule.Conditions = []domain.Condition{}
	}

	if _, err := s.rules.InsertOne(ctx, rule); err != nil {
		if driver.IsDuplicateKeyError(err) {
			return domain.Rule{}, apperr.Conflict("rule already exists")
		}
		return domain.Rule{}, err
	}
	return rule, nil
}

func (s *Store) UpdateRule(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if rule.Conditions == nil {
		rule.Conditions = []domain.Condition{}
	}
	set := bson.M{
		"pipelineId": rule.PipelineID,
		"calendarId": rule.CalendarID,
		"name":       rule.Name,
		"trigger":    rule.Trigger,
		"conditions": rule.Conditions,
		"actions":    rule.Actions,
		"priority":   rule.Priority,
		"isActive":   rule.IsActive,
		"updatedAt":  time.Now().UTC(),
	}
	var updated domain.Rule
	err := s.rules.FindOneAndUpdate(ctx,
		bson.M{"_id": rule.ID, "locationId": rule.LocationID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		return domain.Rule{}, notFound(err, "rule")
	}
	normalizeRule(&updated)
	return updated, nil
}

func (s *Store) SetRuleActive(ctx context.Context, locationID string, id uuid.UUID, active bool) error {
	res, err := s.rules.UpdateOne(ctx,
		bson.M{"_id": id, "locationId": locationID},
		bson.M{"$set": bson.M{"isActive": active, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("rule not found")
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id uuid.UUID) (*domain.Rule, error) {
	return s.findRule(ctx, bson.M{"_id": id})
}

func (s *Store) FindRuleBySeedKey(ctx context.Context, locationID, seedKey string) (*domain.Rule, error) {
	return s.findRule(ctx, bson.M{"locationId": locationID, "seedKey": seedKey})
}

func (s *Store) findRule(ctx context.Context, filter bson.M) (*domain.Rule, error) {
	var rule domain.Rule
	if err := s.rules.FindOne(ctx, filter).Decode(&rule); err != nil {
		return nil, notFound(err, "rule")
	}
	normalizeRule(&rule)
	return &rule, nil
}

func (s *Store) ListRules(ctx context.Context, filter domain.RuleFilter) ([]domain.Rule, error) {
	q := bson.M{}
	if filter.LocationID != "" {
		q["locationId"] = filter.LocationID
	}
	if filter.TriggerType != "" {
		q["trigger.type"] = filter.TriggerType
	}
	if filter.ActiveOnly {
		q["isActive"] = true
	}
	return s.findRules(ctx, q)
}

func (s *Store) ListActiveRules(ctx context.Context, locationID string, trigger domain.TriggerType) ([]domain.Rule, error) {
	return s.findRules(ctx, bson.M{"locationId": locationID, "trigger.type": trigger, "isActive": true})
}

func (s *Store) ListActiveRulesByTrigger(ctx context.Context, trigger domain.TriggerType) ([]domain.Rule, error) {
	return s.findRules(ctx, bson.M{"trigger.type": trigger, "isActive": true})
}

func (s *Store) findRules(ctx context.Context, filter bson.M) ([]domain.Rule, error) {
	cur, err := s.rules.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var rules []domain.Rule
	if err := cur.All(ctx, &rules); err != nil {
		return nil, err
	}
	for i := range rules {
		normalizeRule(&rules[i])
	}
	return rules, nil
}

func (s *Store) IncrementRuleCounters(ctx context.Context, id uuid.UUID, succeeded bool) error {
	success, failure := 0, 1
	if succeeded {
		success, failure = 1, 0
	}
	res, err := s.rules.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{
		"executionCount": 1,
		"successCount":   success,
		"failureCount":   failure,
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("rule not found")
	}
	return nil
}

// ---- tracking

type trackingDoc struct {
	Token         uuid.UUID `bson:"_id"`
	LocationID    string    `bson:"locationId"`
	AppointmentID string    `bson:"appointmentId"`
	TechnicianID  string    `bson:"technicianId"`
	ExpiresAt     time.Time `bson:"expiresAt"`
	CreatedAt     time.Time `bson:"createdAt"`
}

func (s *Store) CreateTrackingSession(ctx context.Context, session executor.TrackingSession) error {
	_, err := s.tracking.InsertOne(ctx, trackingDoc(session))
	return err
}
