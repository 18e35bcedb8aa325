package beat

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/taskbeat/taskbeat/internal/store"
)

// cacheState is the change-detection cache of spec.md §4.3.3: everything
// the next tick needs in order to decide "is anything dirty" without a
// full reload.
type cacheState struct {
	count        int
	sortedIDs    []string
	contentHash  string
	enabled      map[string]bool // universe of every id ever seen -> last known enabled state
	maxUpdatedAt time.Time
}

func newCacheState() cacheState {
	return cacheState{enabled: map[string]bool{}}
}

// buildCacheState derives the five change-detection slots from a snapshot.
func buildCacheState(snapshot *store.Snapshot, prev cacheState) cacheState {
	next := cacheState{
		count:        len(snapshot.Tasks),
		maxUpdatedAt: snapshot.MaxUpdatedAt,
		enabled:      make(map[string]bool, len(prev.enabled)+len(snapshot.Tasks)),
	}

	// Carry forward every id we've ever tracked, defaulting to "no longer
	// enabled" unless the new snapshot says otherwise. This is what lets
	// signal 4 see a true->false transition even though ListEnabledSnapshot
	// only returns currently-enabled tasks.
	for id := range prev.enabled {
		next.enabled[id] = false
	}

	ids := make([]string, 0, len(snapshot.Tasks))
	for _, t := range snapshot.Tasks {
		ids = append(ids, t.ID)
		next.enabled[t.ID] = true
	}
	sort.Strings(ids)
	next.sortedIDs = ids
	next.contentHash = contentHash(snapshot.Tasks)

	return next
}

// contentHash is the stable hash of spec.md §4.3.3 signal 3, over the
// sorted enabled tasks' (id, parameters, schedule_type, schedule_config,
// priority, max_retries, timeout_seconds, enabled, updated_at) tuple.
func contentHash(tasks []*store.Task) string {
	sorted := make([]*store.Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	for _, t := range sorted {
		fmt.Fprintf(h, "%s|%s|%s|%s|%d|%d|%d|%t|%d\n",
			t.ID, t.Parameters, t.ScheduleType, t.ScheduleConfig,
			t.Priority, t.MaxRetries, t.TimeoutSeconds, t.Enabled, t.UpdatedAt.UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// changeSignals reports which of the five spec.md §4.3.3 signals fired
// between prev and next.
func changeSignals(prev, next cacheState) []string {
	var signals []string

	if prev.count != next.count {
		signals = append(signals, "enabled_count")
	}
	if !stringsEqual(prev.sortedIDs, next.sortedIDs) {
		signals = append(signals, "enabled_identity")
	}
	if prev.contentHash != next.contentHash {
		signals = append(signals, "content_hash")
	}
	if enabledMapDiffers(prev.enabled, next.enabled) {
		signals = append(signals, "enabled_transition")
	}
	if next.maxUpdatedAt.After(prev.maxUpdatedAt) {
		signals = append(signals, "max_updated_at")
	}

	return signals
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func enabledMapDiffers(prev, next map[string]bool) bool {
	if len(prev) != len(next) {
		return true
	}
	for id, v := range next {
		if prev[id] != v {
			return true
		}
	}
	return false
}
