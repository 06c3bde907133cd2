package lru

import (
	"container/list"
	"sync"
)

type shard[V any] struct {
	mu        sync.Mutex
	max       int
	evictList *list.List
	elems     map[string]*list.Element
	onEvict   OnEvict[V]
}

type entry[V any] struct {
	key   string
	value V
}

func newShard[V any](max int, onEvict OnEvict[V]) *shard[V] {
	return &shard[V]{
		max:       max,
		evictList: list.New(),
		elems:     make(map[string]*list.Element),
		onEvict:   onEvict,
	}
}

func (s *shard[V]) get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.elems[key]
	if !ok {
		var zero V
		return zero, false
	}

	s.evictList.MoveToFront(elem)
	return elem.Value.(*entry[V]).value, true
}

func (s *shard[V]) add(key string, value V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.elems[key]; ok {
		s.evictList.MoveToFront(elem)
		elem.Value.(*entry[V]).value = value
		return false
	}

	var evicted bool
	for len(s.elems) >= s.max {
		k, v, ok := s.removeOldestUnderLock()
		if !ok {
			break
		}
		evicted = true
		if s.onEvict != nil {
			s.onEvict(k, v)
		}
	}

	s.elems[key] = s.evictList.PushFront(&entry[V]{key: key, value: value})
	return evicted
}

func (s *shard[V]) remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.elems[key]
	if !ok {
		return false
	}

	s.removeElementUnderLock(elem)
	return true
}

func (s *shard[V]) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.elems = make(map[string]*list.Element)
	s.evictList.Init()
}

func (s *shard[V]) removeOldestUnderLock() (string, V, bool) {
	elem := s.evictList.Back()
	if elem == nil {
		var zero V
		return "", zero, false
	}

	kv := s.removeElementUnderLock(elem)
	return kv.key, kv.value, true
}

func (s *shard[V]) removeElementUnderLock(elem *list.Element) *entry[V] {
	s.evictList.Remove(elem)
	kv := elem.Value.(*entry[V])
	delete(s.elems, kv.key)
	return kv
}

func (s *shard[V]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elems)
}

func (s *shard[V]) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.elems))
	for k := range s.elems {
		keys = append(keys, k)
	}
	return keys
}
