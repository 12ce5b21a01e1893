// Package streams defines the extractable HubSpot streams: which endpoint
// each one reads, how it paginates, how records get enriched, and where the
// replication value lives inside a record.
package streams

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/hubtap/pkg/hubspot"
)

// Replication methods.
const (
	ReplicationIncremental = "INCREMENTAL"
	ReplicationFullTable   = "FULL_TABLE"
)

// Record couples an extracted payload with its replication timestamp. The
// timestamp is zero for records without one (full table streams).
type Record struct {
	Data             map[string]interface{}
	ReplicationValue time.Time
}

// Runtime carries the shared collaborators a stream sync needs.
type Runtime struct {
	Client *hubspot.Client
	Logger *zap.Logger

	// Discovered is shared across streams within one run; nil disables
	// cross-stream discovery
	Discovered *Discovered

	// PageSize overrides a stream's default page size when > 0
	PageSize int
}

// Discovered accumulates what the contacts sync learns for later streams in
// the same run: form guids referenced by contact records feed the
// submissions sync, and the ids of contacts active inside the window feed
// the contact events sync.
type Discovered struct {
	mu          sync.Mutex
	guids       []string
	guidSeen    map[string]struct{}
	contactIDs  []string
	idSeen      map[string]struct{}
	windowStart time.Time
	windowEnd   time.Time
}

// NewDiscovered creates an empty discovery accumulator.
func NewDiscovered() *Discovered {
	return &Discovered{
		guidSeen: make(map[string]struct{}),
		idSeen:   make(map[string]struct{}),
	}
}

// SetWindow records the contacts sync window.
func (d *Discovered) SetWindow(start, end time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windowStart, d.windowEnd = start, end
}

// Window returns the contacts sync window, zero until contacts have synced.
func (d *Discovered) Window() (time.Time, time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.windowStart, d.windowEnd
}

// AddFormGUID records a form guid referenced by a contact. Duplicates are
// dropped; first-seen order is kept.
func (d *Discovered) AddFormGUID(guid string) {
	if guid == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.guidSeen[guid]; ok {
		return
	}
	d.guidSeen[guid] = struct{}{}
	d.guids = append(d.guids, guid)
}

// HasFormGUID reports whether a guid was already recorded.
func (d *Discovered) HasFormGUID(guid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.guidSeen[guid]
	return ok
}

// FormGUIDs returns the recorded guids in first-seen order.
func (d *Discovered) FormGUIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.guids))
	copy(out, d.guids)
	return out
}

// AddContactID records a contact active inside the sync window.
func (d *Discovered) AddContactID(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.idSeen[id]; ok {
		return
	}
	d.idSeen[id] = struct{}{}
	d.contactIDs = append(d.contactIDs, id)
}

// ContactIDs returns the recorded contact ids in first-seen order.
func (d *Discovered) ContactIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.contactIDs))
	copy(out, d.contactIDs)
	return out
}

// Definition describes one extractable stream.
type Definition interface {
	// Name is the stream identifier used in output and state
	Name() string

	// Replication is INCREMENTAL or FULL_TABLE
	Replication() string

	// BookmarkKey names the replication field recorded in state, empty
	// for full table streams
	BookmarkKey() string

	// Window adjusts the sync window before paging starts
	Window(start, end time.Time) (time.Time, time.Time)

	// Pages returns the paginator covering the window
	Pages(ctx context.Context, rt *Runtime, start, end time.Time) (hubspot.Paginator, error)

	// Records converts one page into records, applying any enrichment
	Records(ctx context.Context, rt *Runtime, page *hubspot.Page) ([]Record, error)
}

// getValue walks a nested path through a record, returning nil when any
// element is missing.
func getValue(obj map[string]interface{}, path []string) interface{} {
	var current interface{} = obj
	for _, key := range path {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[key]
		if !ok {
			return nil
		}
	}
	return current
}

// replicationValue extracts and parses a record's replication timestamp.
func replicationValue(record map[string]interface{}, path []string) time.Time {
	ts, _ := hubspot.ParseTimestamp(getValue(record, path))
	return ts
}

// pageSize picks the effective page size for a stream.
func pageSize(rt *Runtime, fallback int) int {
	if rt.PageSize > 0 {
		return rt.PageSize
	}
	return fallback
}

// limitParam renders a page size as the limit query parameter value.
func limitParam(n int) string {
	return strconv.Itoa(n)
}
