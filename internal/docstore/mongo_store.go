package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStore implements Store on MongoDB. Batches run as multi-document transactions,
// so the server has to be a replica set.
type MongoStore struct {
	db     *mongo.Database
	logger *zap.Logger
}

func NewMongoStore(db *mongo.Database, logger *zap.Logger) *MongoStore {
	return &MongoStore{db: db, logger: logger}
}

func byID(id string) bson.M {
	return bson.M{"_id": id}
}

func (m *MongoStore) Get(ctx context.Context, collection, id string, out any) error {
	err := m.db.Collection(collection).FindOne(ctx, byID(id)).Decode(out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return nil
}

func (m *MongoStore) Set(ctx context.Context, collection, id string, doc any) error {
	d, err := toDocument(id, doc)
	if err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.db.Collection(collection).ReplaceOne(ctx, byID(id), d, opts); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
	}
	return nil
}

func updateDoc(fields Fields) bson.M {
	update := bson.M{"$inc": bson.M{VersionField: int64(1)}}
	if len(fields) > 0 {
		update["$set"] = bson.M(fields)
	}
	return update
}

func (m *MongoStore) Update(ctx context.Context, collection, id string, fields Fields) error {
	result, err := m.db.Collection(collection).UpdateOne(ctx, byID(id), updateDoc(fields))
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) Add(ctx context.Context, collection string, doc any) (string, error) {
	id := uuid.NewString()
	d, err := toDocument(id, doc)
	if err != nil {
		return "", err
	}
	if _, err := m.db.Collection(collection).InsertOne(ctx, d); err != nil {
		return "", fmt.Errorf("failed to add to %s: %w", collection, err)
	}
	return id, nil
}

func (m *MongoStore) Delete(ctx context.Context, collection, id string) error {
	result, err := m.db.Collection(collection).DeleteOne(ctx, byID(id))
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) List(ctx context.Context, collection string) ([]bson.Raw, error) {
	return m.find(ctx, Watch{Collection: collection})
}

func (m *MongoStore) find(ctx context.Context, w Watch) ([]bson.Raw, error) {
	filter := bson.M{}
	if w.ID != "" {
		filter = byID(w.ID)
	}
	cursor, err := m.db.Collection(w.Collection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", w.Collection, err)
	}
	defer cursor.Close(ctx)

	docs := []bson.Raw{}
	for cursor.Next(ctx) {
		docs = append(docs, append(bson.Raw(nil), cursor.Current...))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error on %s: %w", w.Collection, err)
	}
	return docs, nil
}

func (m *MongoStore) Batch() Batch {
	return newBatch(m.commit)
}

func (m *MongoStore) commit(ctx context.Context, ops []op) error {
	session, err := m.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, o := range ops {
			if err := m.apply(sc, o); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (m *MongoStore) apply(ctx context.Context, o op) error {
	coll := m.db.Collection(o.collection)

	switch o.kind {
	case opUpdate:
		filter := byID(o.id)
		for _, p := range o.preconds {
			filter[VersionField] = p.Version
		}
		result, err := coll.UpdateOne(ctx, filter, updateDoc(o.fields))
		if err != nil {
			return fmt.Errorf("%s: %w", o, err)
		}
		if result.MatchedCount == 0 {
			if len(o.preconds) == 0 {
				return fmt.Errorf("%s: %w", o, ErrNotFound)
			}
			n, err := coll.CountDocuments(ctx, byID(o.id))
			if err != nil {
				return fmt.Errorf("%s: %w", o, err)
			}
			if n == 0 {
				return fmt.Errorf("%s: %w", o, ErrNotFound)
			}
			return fmt.Errorf("%s: %w", o, ErrConflict)
		}
	case opSet:
		d, err := toDocument(o.id, o.doc)
		if err != nil {
			return err
		}
		if _, err := coll.ReplaceOne(ctx, byID(o.id), d, options.Replace().SetUpsert(true)); err != nil {
			return fmt.Errorf("%s: %w", o, err)
		}
	case opCreate:
		d, err := toDocument(o.id, o.doc)
		if err != nil {
			return err
		}
		if _, err := coll.InsertOne(ctx, d); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%s: %w", o, ErrAlreadyExists)
			}
			return fmt.Errorf("%s: %w", o, err)
		}
	case opDelete:
		if _, err := coll.DeleteOne(ctx, byID(o.id)); err != nil {
			return fmt.Errorf("%s: %w", o, err)
		}
	}
	return nil
}

// Subscribe re-reads the watched documents on every change stream event.
func (m *MongoStore) Subscribe(ctx context.Context, w Watch) (*Subscription, error) {
	pipeline := mongo.Pipeline{}
	if w.ID != "" {
		pipeline = mongo.Pipeline{
			{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: w.ID}}}},
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := m.db.Collection(w.Collection).Watch(ctx, pipeline)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s: %w", w.Collection, err)
	}

	ch := make(chan Snapshot, 1)
	go func() {
		defer close(ch)
		defer stream.Close(context.Background())

		m.emit(ctx, w, ch)
		for stream.Next(ctx) {
			m.emit(ctx, w, ch)
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			m.logger.Error("change stream stopped",
				zap.String("collection", w.Collection), zap.Error(err))
		}
	}()

	return newSubscription(ch, cancel), nil
}

func (m *MongoStore) emit(ctx context.Context, w Watch, ch chan Snapshot) {
	docs, err := m.find(ctx, w)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Error("failed to read snapshot",
				zap.String("collection", w.Collection), zap.Error(err))
		}
		return
	}
	offer(ch, Snapshot{Collection: w.Collection, Docs: docs})
}

// CreateIndexes adds the secondary indexes the storefront queries rely on.
func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	_, err := m.db.Collection("orders").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	_, err = m.db.Collection("carts").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "updated_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
