package voice

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ActivityStatus is the lifecycle of one user-facing activity entry.
type ActivityStatus string

const (
	ActivityRunning ActivityStatus = "running"
	ActivityDone    ActivityStatus = "done"
	ActivityError   ActivityStatus = "error"
)

// Activity is a user-facing progress record for one tool invocation. The
// feed is observability only; nothing reads it to make control decisions.
type Activity struct {
	ID        string
	Tool      string
	Label     string
	Detail    string
	Status    ActivityStatus
	StartedAt time.Time
	EndedAt   time.Time
}

// ActivityFeed is a bounded, ordered list of recent activities. Owned by the
// session dispatch loop; accessors return copies.
type ActivityFeed struct {
	limit   int
	entries []Activity
}

func NewActivityFeed(limit int) *ActivityFeed {
	if limit <= 0 {
		limit = 50
	}
	return &ActivityFeed{limit: limit}
}

// Begin records a running entry and returns its id.
func (f *ActivityFeed) Begin(tool, label string) string {
	id := ulid.Make().String()
	f.entries = append(f.entries, Activity{
		ID:        id,
		Tool:      tool,
		Label:     label,
		Status:    ActivityRunning,
		StartedAt: time.Now(),
	})
	if len(f.entries) > f.limit {
		f.entries = f.entries[len(f.entries)-f.limit:]
	}
	return id
}

// Finish marks the entry terminal. Unknown ids (already evicted) are ignored.
func (f *ActivityFeed) Finish(id string, status ActivityStatus, detail string) {
	for i := range f.entries {
		if f.entries[i].ID != id {
			continue
		}
		f.entries[i].Status = status
		f.entries[i].Detail = detail
		f.entries[i].EndedAt = time.Now()
		return
	}
}

// Entries returns the feed in insertion order.
func (f *ActivityFeed) Entries() []Activity {
	if f == nil {
		return nil
	}
	return append([]Activity(nil), f.entries...)
}
