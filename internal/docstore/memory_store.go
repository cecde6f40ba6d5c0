package docstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// FaultFunc lets tests fail individual operations. kind is one of
// "get", "list", "set", "update", "create", "delete" or "commit".
type FaultFunc func(kind, collection, id string) error

// MemoryStore implements Store in process memory
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	subs        map[int]*memSubscriber
	nextSubID   int
	fault       FaultFunc
}

type memCollection struct {
	ids  []string // insertion order
	docs map[string]bson.Raw
}

type memSubscriber struct {
	watch Watch
	ch    chan Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memCollection),
		subs:        make(map[int]*memSubscriber),
	}
}

// InjectFault installs f; pass nil to remove it.
func (s *MemoryStore) InjectFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

func (s *MemoryStore) checkFault(kind, collection, id string) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(kind, collection, id)
}

func (s *MemoryStore) collection(name string) *memCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{docs: make(map[string]bson.Raw)}
		s.collections[name] = c
	}
	return c
}

func (s *MemoryStore) lookup(collection, id string) (bson.Raw, bool) {
	c, ok := s.collections[collection]
	if !ok {
		return nil, false
	}
	raw, ok := c.docs[id]
	return raw, ok
}

func (s *MemoryStore) put(collection, id string, raw bson.Raw) {
	c := s.collection(collection)
	if _, exists := c.docs[id]; !exists {
		c.ids = append(c.ids, id)
	}
	c.docs[id] = raw
}

func (s *MemoryStore) remove(collection, id string) bool {
	c, ok := s.collections[collection]
	if !ok {
		return false
	}
	if _, exists := c.docs[id]; !exists {
		return false
	}
	delete(c.docs, id)
	c.ids = slices.DeleteFunc(c.ids, func(x string) bool { return x == id })
	return true
}

func (s *MemoryStore) Get(_ context.Context, collection, id string, out any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkFault("get", collection, id); err != nil {
		return err
	}
	raw, ok := s.lookup(collection, id)
	if !ok {
		return ErrNotFound
	}
	if err := bson.UnmarshalWithRegistry(Registry, raw, out); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *MemoryStore) Set(_ context.Context, collection, id string, doc any) error {
	raw, err := encode(id, doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault("set", collection, id); err != nil {
		return err
	}
	s.put(collection, id, raw)
	s.notify(map[string][]string{collection: {id}})
	return nil
}

func (s *MemoryStore) Update(_ context.Context, collection, id string, fields Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault("update", collection, id); err != nil {
		return err
	}
	raw, ok := s.lookup(collection, id)
	if !ok {
		return ErrNotFound
	}
	merged, err := merge(raw, fields)
	if err != nil {
		return err
	}
	s.put(collection, id, merged)
	s.notify(map[string][]string{collection: {id}})
	return nil
}

func (s *MemoryStore) Add(_ context.Context, collection string, doc any) (string, error) {
	id := uuid.NewString()
	raw, err := encode(id, doc)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault("create", collection, id); err != nil {
		return "", err
	}
	s.put(collection, id, raw)
	s.notify(map[string][]string{collection: {id}})
	return id, nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFault("delete", collection, id); err != nil {
		return err
	}
	if !s.remove(collection, id) {
		return ErrNotFound
	}
	s.notify(map[string][]string{collection: {id}})
	return nil
}

func (s *MemoryStore) List(_ context.Context, collection string) ([]bson.Raw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkFault("list", collection, ""); err != nil {
		return nil, err
	}
	return s.snapshot(Watch{Collection: collection}).Docs, nil
}

func (s *MemoryStore) Batch() Batch {
	return newBatch(s.commit)
}

type stagedKey struct {
	collection string
	id         string
}

// commit validates every op against the current state plus the ops staged before it,
// and only then applies them all.
func (s *MemoryStore) commit(_ context.Context, ops []op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[stagedKey]bson.Raw, len(ops)) // nil value means deleted
	order := make([]stagedKey, 0, len(ops))
	current := func(k stagedKey) (bson.Raw, bool) {
		if raw, ok := staged[k]; ok {
			return raw, raw != nil
		}
		return s.lookup(k.collection, k.id)
	}
	stage := func(k stagedKey, raw bson.Raw) {
		if _, ok := staged[k]; !ok {
			order = append(order, k)
		}
		staged[k] = raw
	}

	for _, o := range ops {
		if err := s.checkFault(o.kind.String(), o.collection, o.id); err != nil {
			return err
		}
		k := stagedKey{o.collection, o.id}
		existing, exists := current(k)

		switch o.kind {
		case opUpdate:
			if !exists {
				return fmt.Errorf("%s: %w", o, ErrNotFound)
			}
			if err := checkPreconditions(existing, o.preconds); err != nil {
				return fmt.Errorf("%s: %w", o, err)
			}
			merged, err := merge(existing, o.fields)
			if err != nil {
				return err
			}
			stage(k, merged)
		case opSet:
			raw, err := encode(o.id, o.doc)
			if err != nil {
				return err
			}
			stage(k, raw)
		case opCreate:
			if exists {
				return fmt.Errorf("%s: %w", o, ErrAlreadyExists)
			}
			raw, err := encode(o.id, o.doc)
			if err != nil {
				return err
			}
			stage(k, raw)
		case opDelete:
			stage(k, nil)
		}
	}

	if err := s.checkFault("commit", "", ""); err != nil {
		return err
	}

	changed := make(map[string][]string)
	for _, k := range order {
		if raw := staged[k]; raw != nil {
			s.put(k.collection, k.id, raw)
		} else {
			s.remove(k.collection, k.id)
		}
		changed[k.collection] = append(changed[k.collection], k.id)
	}
	s.notify(changed)
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, w Watch) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = &memSubscriber{watch: w, ch: ch}
	offer(ch, s.snapshot(w))
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return newSubscription(ch, cancel), nil
}

// notify must be called with s.mu held.
func (s *MemoryStore) notify(changed map[string][]string) {
	for _, sub := range s.subs {
		ids, ok := changed[sub.watch.Collection]
		if !ok {
			continue
		}
		if sub.watch.ID != "" && !slices.Contains(ids, sub.watch.ID) {
			continue
		}
		offer(sub.ch, s.snapshot(sub.watch))
	}
}

func (s *MemoryStore) snapshot(w Watch) Snapshot {
	snap := Snapshot{Collection: w.Collection, Docs: []bson.Raw{}}
	c, ok := s.collections[w.Collection]
	if !ok {
		return snap
	}
	if w.ID != "" {
		if raw, ok := c.docs[w.ID]; ok {
			snap.Docs = append(snap.Docs, raw)
		}
		return snap
	}
	for _, id := range c.ids {
		snap.Docs = append(snap.Docs, c.docs[id])
	}
	return snap
}

func encode(id string, doc any) (bson.Raw, error) {
	m, err := toDocument(id, doc)
	if err != nil {
		return nil, err
	}
	raw, err := bson.MarshalWithRegistry(Registry, m)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

func merge(raw bson.Raw, fields Fields) (bson.Raw, error) {
	var m bson.M
	if err := bson.UnmarshalWithRegistry(Registry, raw, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for k, v := range fields {
		m[k] = v
	}
	m[VersionField] = versionOf(m) + 1
	out, err := bson.MarshalWithRegistry(Registry, m)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

func checkPreconditions(raw bson.Raw, preconds []Precondition) error {
	if len(preconds) == 0 {
		return nil
	}
	var m bson.M
	if err := bson.UnmarshalWithRegistry(Registry, raw, &m); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	for _, p := range preconds {
		if versionOf(m) != p.Version {
			return ErrConflict
		}
	}
	return nil
}
