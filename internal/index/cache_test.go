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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newMetricsCache(2)
	c.put(&metricsCacheEntry{runID: "a"})
	c.put(&metricsCacheEntry{runID: "b"})
	c.put(&metricsCacheEntry{runID: "c"}) // evicts "a"

	_, ok := c.get("a")
	assert.False(t, ok)
	_, ok = c.get("b")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}

func TestMetricsCache_GetPromotesToFront(t *testing.T) {
	c := newMetricsCache(2)
	c.put(&metricsCacheEntry{runID: "a"})
	c.put(&metricsCacheEntry{runID: "b"})

	_, ok := c.get("a") // now most-recently-used
	assert.True(t, ok)

	c.put(&metricsCacheEntry{runID: "c"}) // evicts "b", not "a"

	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("b")
	assert.False(t, ok)
}

func TestMetricsCache_InvalidateRemovesEntry(t *testing.T) {
	c := newMetricsCache(2)
	c.put(&metricsCacheEntry{runID: "a"})
	c.invalidate("a")

	_, ok := c.get("a")
	assert.False(t, ok)
}
