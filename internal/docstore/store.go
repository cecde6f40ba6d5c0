package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrConflict      = errors.New("document version conflict")
)

// VersionField is bumped by every Update and checked by MatchVersion.
const VersionField = "version"

// Fields is a partial document merged into an existing one.
// It must not contain VersionField.
type Fields map[string]any

// Precondition guards a batched update. A batch whose precondition does not hold
// fails as a whole with ErrConflict.
type Precondition struct {
	Version int64
}

func MatchVersion(v int64) Precondition {
	return Precondition{Version: v}
}

// Watch selects what a subscription observes: a whole collection, or one document when ID is set.
type Watch struct {
	Collection string
	ID         string
}

// Snapshot is the full current state of the watched documents.
type Snapshot struct {
	Collection string
	Docs       []bson.Raw
}

// Store is the document database the storefront keeps all of its state in.
type Store interface {
	Get(ctx context.Context, collection, id string, out any) error
	Set(ctx context.Context, collection, id string, doc any) error
	Update(ctx context.Context, collection, id string, fields Fields) error
	Add(ctx context.Context, collection string, doc any) (string, error)
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string) ([]bson.Raw, error)
	Batch() Batch
	Subscribe(ctx context.Context, w Watch) (*Subscription, error)
}

// Batch stages writes that are applied all together by Commit, or not at all.
type Batch interface {
	Update(collection, id string, fields Fields, preconds ...Precondition) Batch
	Set(collection, id string, doc any) Batch
	Create(collection, id string, doc any) Batch
	Delete(collection, id string) Batch
	Len() int
	Commit(ctx context.Context) error
}

type opKind int

const (
	opUpdate opKind = iota
	opSet
	opCreate
	opDelete
)

func (k opKind) String() string {
	switch k {
	case opUpdate:
		return "update"
	case opSet:
		return "set"
	case opCreate:
		return "create"
	case opDelete:
		return "delete"
	}
	return "unknown"
}

type op struct {
	kind       opKind
	collection string
	id         string
	fields     Fields
	doc        any
	preconds   []Precondition
}

func (o op) String() string {
	return fmt.Sprintf("%s %s/%s", o.kind, o.collection, o.id)
}

type batch struct {
	ops    []op
	commit func(ctx context.Context, ops []op) error
}

func newBatch(commit func(ctx context.Context, ops []op) error) *batch {
	return &batch{commit: commit}
}

func (b *batch) Update(collection, id string, fields Fields, preconds ...Precondition) Batch {
	b.ops = append(b.ops, op{kind: opUpdate, collection: collection, id: id, fields: fields, preconds: preconds})
	return b
}

func (b *batch) Set(collection, id string, doc any) Batch {
	b.ops = append(b.ops, op{kind: opSet, collection: collection, id: id, doc: doc})
	return b
}

func (b *batch) Create(collection, id string, doc any) Batch {
	b.ops = append(b.ops, op{kind: opCreate, collection: collection, id: id, doc: doc})
	return b
}

func (b *batch) Delete(collection, id string) Batch {
	b.ops = append(b.ops, op{kind: opDelete, collection: collection, id: id})
	return b
}

func (b *batch) Len() int {
	return len(b.ops)
}

func (b *batch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	return b.commit(ctx, b.ops)
}

// Subscription delivers snapshots until it is cancelled or its context ends.
// A slow reader only ever sees the latest snapshot.
type Subscription struct {
	C <-chan Snapshot

	once   sync.Once
	cancel func()
}

func newSubscription(ch <-chan Snapshot, cancel func()) *Subscription {
	return &Subscription{C: ch, cancel: cancel}
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// offer replaces any undelivered snapshot with snap. Callers must be the only sender on ch.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// GetAs is a typed Get.
func GetAs[T any](ctx context.Context, s Store, collection, id string) (T, error) {
	var out T
	err := s.Get(ctx, collection, id, &out)
	return out, err
}

// ListAs lists a whole collection decoded into T.
func ListAs[T any](ctx context.Context, s Store, collection string) ([]T, error) {
	docs, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	return DecodeAll[T](docs)
}

func DecodeAll[T any](docs []bson.Raw) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, raw := range docs {
		var v T
		if err := bson.UnmarshalWithRegistry(Registry, raw, &v); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
