package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/okian/skillstats/internal/domain/model"
)

// Collection names used by MongoStore.
const (
	SkillsCollection       = "skills"
	EventsCollection       = "skill_stat_events"
	DailyStatsCollection   = "skill_daily_stats"
	LeaderboardsCollection = "skill_leaderboards"
)

// MongoStore implements Store on MongoDB. Skill groups and purges run in
// multi-document transactions, so the deployment must be a replica set.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ Store = (*MongoStore)(nil)

type skillDocument struct {
	ID              string    `bson:"_id"`
	Slug            string    `bson:"slug"`
	Downloads       int64     `bson:"downloads"`
	Stars           int64     `bson:"stars"`
	InstallsCurrent int64     `bson:"installs_current"`
	InstallsAllTime int64     `bson:"installs_all_time"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func (d skillDocument) toModel() model.Skill {
	return model.Skill{
		ID:   d.ID,
		Slug: d.Slug,
		Counters: model.Counters{
			Downloads:       d.Downloads,
			Stars:           d.Stars,
			InstallsCurrent: d.InstallsCurrent,
			InstallsAllTime: d.InstallsAllTime,
		},
		UpdatedAt: d.UpdatedAt,
	}
}

type eventDocument struct {
	ID          string              `bson:"_id"`
	Seq         primitive.ObjectID  `bson:"seq"`
	SkillID     string              `bson:"skill_id"`
	Kind        string              `bson:"kind"`
	Delta       *model.InstallDelta `bson:"delta,omitempty"`
	OccurredAt  time.Time           `bson:"occurred_at"`
	ProcessedAt *time.Time          `bson:"processed_at"`
}

type dailyDocument struct {
	SkillID   string    `bson:"skill_id"`
	Day       int64     `bson:"day"`
	Downloads int64     `bson:"downloads"`
	Installs  int64     `bson:"installs"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type snapshotDocument struct {
	ID            string                   `bson:"_id"`
	Kind          string                   `bson:"kind"`
	GeneratedAt   time.Time                `bson:"generated_at"`
	RangeStartDay int64                    `bson:"range_start_day"`
	RangeEndDay   int64                    `bson:"range_end_day"`
	Items         []model.LeaderboardEntry `bson:"items"`
}

// NewMongoStore connects to uri and uses the named database.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

// EnsureIndexes creates the indexes the queries rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		EventsCollection: {
			{Keys: bson.D{{Key: "processed_at", Value: 1}, {Key: "seq", Value: 1}}},
			{Keys: bson.D{{Key: "skill_id", Value: 1}}},
		},
		DailyStatsCollection: {
			{Keys: bson.D{{Key: "skill_id", Value: 1}, {Key: "day", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "day", Value: 1}}},
		},
		LeaderboardsCollection: {
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "generated_at", Value: -1}}},
		},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// InsertEvent appends e.
func (s *MongoStore) InsertEvent(ctx context.Context, e model.StatEvent) error {
	defer observe("insert_event", time.Now())
	doc := eventDocument{
		ID:          e.ID,
		Seq:         primitive.NewObjectID(),
		SkillID:     e.SkillID,
		Kind:        string(e.Kind),
		Delta:       e.Delta,
		OccurredAt:  e.OccurredAt.UTC(),
		ProcessedAt: e.ProcessedAt,
	}
	_, err := s.collection(EventsCollection).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UnprocessedEvents returns up to limit unprocessed events in insertion order.
func (s *MongoStore) UnprocessedEvents(ctx context.Context, limit int) ([]model.StatEvent, error) {
	defer observe("unprocessed_events", time.Now())
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := s.collection(EventsCollection).Find(ctx, bson.M{"processed_at": nil}, opts)
	if err != nil {
		return nil, fmt.Errorf("find unprocessed events: %w", err)
	}
	var docs []eventDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	out := make([]model.StatEvent, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.StatEvent{
			ID:         d.ID,
			SkillID:    d.SkillID,
			Kind:       model.Kind(d.Kind),
			Delta:      d.Delta,
			OccurredAt: d.OccurredAt,
		})
	}
	return out, nil
}

// GetSkill returns the skill with id.
func (s *MongoStore) GetSkill(ctx context.Context, id string) (model.Skill, error) {
	defer observe("get_skill", time.Now())
	var doc skillDocument
	err := s.collection(SkillsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Skill{}, ErrNotFound
	}
	if err != nil {
		return model.Skill{}, fmt.Errorf("find skill: %w", err)
	}
	return doc.toModel(), nil
}

// PutSkill creates or replaces a skill.
func (s *MongoStore) PutSkill(ctx context.Context, sk model.Skill) error {
	updatedAt := sk.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	doc := skillDocument{
		ID:              sk.ID,
		Slug:            sk.Slug,
		Downloads:       sk.Counters.Downloads,
		Stars:           sk.Counters.Stars,
		InstallsCurrent: sk.Counters.InstallsCurrent,
		InstallsAllTime: sk.Counters.InstallsAllTime,
		UpdatedAt:       updatedAt.UTC(),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection(SkillsCollection).ReplaceOne(ctx, bson.M{"_id": sk.ID}, doc, opts); err != nil {
		return fmt.Errorf("put skill: %w", err)
	}
	return nil
}

// DailyStatsInRange scans the day index.
func (s *MongoStore) DailyStatsInRange(ctx context.Context, startDay, endDay int64) ([]model.DailyStat, error) {
	defer observe("daily_stats_in_range", time.Now())
	filter := bson.M{"day": bson.M{"$gte": startDay, "$lte": endDay}}
	cursor, err := s.collection(DailyStatsCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find daily stats: %w", err)
	}
	var docs []dailyDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode daily stats: %w", err)
	}
	out := make([]model.DailyStat, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.DailyStat(d))
	}
	return out, nil
}

// DailyStat returns one bucket.
func (s *MongoStore) DailyStat(ctx context.Context, skillID string, day int64) (model.DailyStat, error) {
	var doc dailyDocument
	err := s.collection(DailyStatsCollection).
		FindOne(ctx, bson.M{"skill_id": skillID, "day": day}).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.DailyStat{}, ErrNotFound
	}
	if err != nil {
		return model.DailyStat{}, fmt.Errorf("find daily stat: %w", err)
	}
	return model.DailyStat(doc), nil
}

// InsertSnapshot stores snap.
func (s *MongoStore) InsertSnapshot(ctx context.Context, snap model.Snapshot) error {
	defer observe("insert_snapshot", time.Now())
	items := snap.Items
	if items == nil {
		items = []model.LeaderboardEntry{}
	}
	doc := snapshotDocument{
		ID:            snap.ID,
		Kind:          string(snap.Kind),
		GeneratedAt:   snap.GeneratedAt.UTC(),
		RangeStartDay: snap.RangeStartDay,
		RangeEndDay:   snap.RangeEndDay,
		Items:         items,
	}
	_, err := s.collection(LeaderboardsCollection).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshots of kind, newest first.
func (s *MongoStore) RecentSnapshots(ctx context.Context, kind model.LeaderboardKind, limit int) ([]model.Snapshot, error) {
	defer observe("recent_snapshots", time.Now())
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "generated_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.collection(LeaderboardsCollection).Find(ctx, bson.M{"kind": string(kind)}, opts)
	if err != nil {
		return nil, fmt.Errorf("find snapshots: %w", err)
	}
	var docs []snapshotDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}
	out := make([]model.Snapshot, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.Snapshot{
			ID:            d.ID,
			Kind:          model.LeaderboardKind(d.Kind),
			GeneratedAt:   d.GeneratedAt,
			RangeStartDay: d.RangeStartDay,
			RangeEndDay:   d.RangeEndDay,
			Items:         d.Items,
		})
	}
	return out, nil
}

// DeleteSnapshot removes one snapshot.
func (s *MongoStore) DeleteSnapshot(ctx context.Context, id string) error {
	if _, err := s.collection(LeaderboardsCollection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// PurgeSkill removes the skill, its events and buckets, and pulls it from
// snapshot items, in one transaction.
func (s *MongoStore) PurgeSkill(ctx context.Context, skillID string) error {
	defer observe("purge_skill", time.Now())
	return s.transaction(ctx, func(sc mongo.SessionContext) error {
		// Deleting the skill document first makes a concurrent group's
		// SetCounters write-conflict with the purge; the loser retries.
		if _, err := s.collection(SkillsCollection).DeleteOne(sc, bson.M{"_id": skillID}); err != nil {
			return fmt.Errorf("purge skill: %w", err)
		}
		if _, err := s.collection(EventsCollection).DeleteMany(sc, bson.M{"skill_id": skillID}); err != nil {
			return fmt.Errorf("purge events: %w", err)
		}
		if _, err := s.collection(DailyStatsCollection).DeleteMany(sc, bson.M{"skill_id": skillID}); err != nil {
			return fmt.Errorf("purge daily stats: %w", err)
		}
		_, err := s.collection(LeaderboardsCollection).UpdateMany(sc,
			bson.M{"items.skill_id": skillID},
			bson.M{"$pull": bson.M{"items": bson.M{"skill_id": skillID}}})
		if err != nil {
			return fmt.Errorf("purge snapshot items: %w", err)
		}
		return nil
	})
}

// UpdateSkillGroup runs fn in a transaction. The driver may invoke fn more
// than once on transient errors.
func (s *MongoStore) UpdateSkillGroup(ctx context.Context, skillID string, fn func(ctx context.Context, tx GroupTx) error) error {
	defer observe("update_skill_group", time.Now())
	return s.transaction(ctx, func(sc mongo.SessionContext) error {
		return fn(sc, &mongoTx{store: s, skillID: skillID})
	})
}

func (s *MongoStore) transaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

type mongoTx struct {
	store   *MongoStore
	skillID string
}

func (t *mongoTx) Skill(ctx context.Context) (model.Skill, bool, error) {
	var doc skillDocument
	err := t.store.collection(SkillsCollection).FindOne(ctx, bson.M{"_id": t.skillID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Skill{}, false, nil
	}
	if err != nil {
		return model.Skill{}, false, fmt.Errorf("find skill: %w", err)
	}
	return doc.toModel(), true, nil
}

func (t *mongoTx) SetCounters(ctx context.Context, c model.Counters, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"downloads":         c.Downloads,
		"stars":             c.Stars,
		"installs_current":  c.InstallsCurrent,
		"installs_all_time": c.InstallsAllTime,
		"updated_at":        at.UTC(),
	}}
	if _, err := t.store.collection(SkillsCollection).UpdateOne(ctx, bson.M{"_id": t.skillID}, update); err != nil {
		return fmt.Errorf("set counters: %w", err)
	}
	return nil
}

func (t *mongoTx) UpsertDaily(ctx context.Context, day, downloads, installs int64, at time.Time) error {
	clampedAdd := func(field string, delta int64) bson.M {
		return bson.M{"$max": bson.A{0, bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$" + field, 0}}, delta}}}}
	}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"downloads":  clampedAdd("downloads", downloads),
			"installs":   clampedAdd("installs", installs),
			"updated_at": at.UTC(),
		}}},
	}
	filter := bson.M{"skill_id": t.skillID, "day": day}
	opts := options.Update().SetUpsert(true)
	if _, err := t.store.collection(DailyStatsCollection).UpdateOne(ctx, filter, pipeline, opts); err != nil {
		return fmt.Errorf("upsert daily stat: %w", err)
	}
	return nil
}

func (t *mongoTx) MarkProcessed(ctx context.Context, ids []string, at time.Time) error {
	filter := bson.M{"_id": bson.M{"$in": ids}, "processed_at": nil}
	update := bson.M{"$set": bson.M{"processed_at": at.UTC()}}
	if _, err := t.store.collection(EventsCollection).UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}
