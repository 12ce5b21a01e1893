// Package state tracks per-stream replication bookmarks and renders them as
// resumable snapshot documents. Bookmarks only move forward: a write with an
// older timestamp than the stored one is a no-op, so a crash mid-run can at
// worst re-extract records, never skip them.
package state

import (
	"os"
	"strconv"
	"sync"
	"time"

	jsonpool "github.com/ajitpratap0/hubtap/pkg/json"

	"github.com/ajitpratap0/hubtap/pkg/errors"
	"github.com/ajitpratap0/hubtap/pkg/hubspot"
)

// Replication methods recorded in snapshots.
const (
	ReplicationIncremental = "INCREMENTAL"
	ReplicationFullTable   = "FULL_TABLE"
)

// Bookmark serialization formats. Legacy event streams keep epoch
// milliseconds; everything else keeps RFC 3339.
const (
	FormatISO    = "iso"
	FormatMillis = "millis"
)

// Entry is the replication position of one stream.
type Entry struct {
	// BookmarkKey names the replication field, empty for full table streams
	BookmarkKey string
	// Bookmark is the highest replication value observed
	Bookmark time.Time
	// ReplicationMethod is INCREMENTAL or FULL_TABLE
	ReplicationMethod string
	// Format controls how Bookmark renders in snapshots
	Format string
}

// Store holds the bookmarks of all streams in a run. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Load reads a snapshot file into a new store. A missing file yields an
// empty store; an unreadable or malformed one is a config error.
func Load(path string) (*Store, error) {
	s := New()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read state file")
	}

	var doc struct {
		Bookmarks map[string]map[string]interface{} `json:"bookmarks"`
	}
	if err := jsonpool.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse state file")
	}

	for stream, fields := range doc.Bookmarks {
		entry := Entry{Format: FormatISO}
		for key, value := range fields {
			if key == "replication_method" {
				if method, ok := value.(string); ok {
					entry.ReplicationMethod = method
				}
				continue
			}
			ts, ok := hubspot.ParseTimestamp(value)
			if !ok {
				continue
			}
			entry.BookmarkKey = key
			entry.Bookmark = ts
			if _, isString := value.(string); !isString {
				entry.Format = FormatMillis
			} else if _, err := strconv.ParseInt(value.(string), 10, 64); err == nil {
				entry.Format = FormatMillis
			}
		}
		s.entries[stream] = entry
	}

	return s, nil
}

// Get returns the entry for a stream.
func (s *Store) Get(stream string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[stream]
	return entry, ok
}

// Advance moves a stream's bookmark forward. A timestamp at or behind the
// stored one leaves the entry untouched and returns false.
func (s *Store) Advance(stream string, entry Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[stream]
	if ok && !entry.Bookmark.After(current.Bookmark) {
		// Metadata still updates; the position does not move back.
		current.ReplicationMethod = entry.ReplicationMethod
		current.BookmarkKey = entry.BookmarkKey
		current.Format = entry.Format
		s.entries[stream] = current
		return false
	}

	s.entries[stream] = entry
	return true
}

// SetMethod records the replication method for a stream without touching
// its bookmark. Used by full table streams that carry no cursor.
func (s *Store) SetMethod(stream, method string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entries[stream]
	entry.ReplicationMethod = method
	s.entries[stream] = entry
}

// Snapshot renders the store as a state document value.
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bookmarks := make(map[string]interface{}, len(s.entries))
	for stream, entry := range s.entries {
		fields := make(map[string]interface{}, 2)
		if entry.BookmarkKey != "" && !entry.Bookmark.IsZero() {
			if entry.Format == FormatMillis {
				fields[entry.BookmarkKey] = hubspot.ToMillis(entry.Bookmark)
			} else {
				fields[entry.BookmarkKey] = entry.Bookmark.UTC().Format(time.RFC3339)
			}
		}
		if entry.ReplicationMethod != "" {
			fields["replication_method"] = entry.ReplicationMethod
		}
		bookmarks[stream] = fields
	}

	return map[string]interface{}{"bookmarks": bookmarks}
}

// Write persists a snapshot to the given file atomically.
func (s *Store) Write(path string) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create state file")
	}
	if err := jsonpool.MarshalToWriter(f, s.Snapshot()); err != nil {
		_ = f.Close()
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode state")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write state file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to replace state file")
	}
	return nil
}
