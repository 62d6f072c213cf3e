/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"sync"
	"time"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-concurrencylimit/log"
)

// RecordedEntry is a single logged message together with all its fields,
// including the ones attached to the logger by With.
type RecordedEntry struct {
	Level  log.Level
	Time   time.Time
	Text   string
	Fields []log.Field
}

// FindField returns the field with the given key.
func (re *RecordedEntry) FindField(key string) (*log.Field, bool) {
	for i := range re.Fields {
		if re.Fields[i].Key == key {
			return &re.Fields[i], true
		}
	}
	return nil, false
}

// FieldString returns the value of a string or error field, or "" if there is no such field.
func (re *RecordedEntry) FieldString(key string) string {
	f, ok := re.FindField(key)
	if !ok {
		return ""
	}
	switch f.Type {
	case logf.FieldTypeBytesToString:
		return string(f.Bytes)
	case logf.FieldTypeError:
		if err, isErr := f.Any.(error); isErr && err != nil {
			return err.Error()
		}
	}
	return ""
}

// FieldInt returns the value of an integer field (counts, limits, sizes).
func (re *RecordedEntry) FieldInt(key string) (int64, bool) {
	f, ok := re.FindField(key)
	if !ok {
		return 0, false
	}
	return f.Int, true
}

type entryStore struct {
	mu      sync.RWMutex
	entries []RecordedEntry
}

//nolint:gocritic // logf.EntryWriter signature
func (s *entryStore) WriteEntry(e logf.Entry) {
	entry := RecordedEntry{
		Level:  levelFromLogf(e.Level),
		Time:   e.Time,
		Text:   e.Text,
		Fields: make([]log.Field, 0, len(e.Fields)+len(e.DerivedFields)),
	}
	entry.Fields = append(entry.Fields, e.Fields...)
	entry.Fields = append(entry.Fields, e.DerivedFields...)

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()
}

func (s *entryStore) filter(keep func(RecordedEntry) bool) []RecordedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []RecordedEntry
	for _, e := range s.entries {
		if keep == nil || keep(e) {
			res = append(res, e)
		}
	}
	return res
}

// Recorder is a log.FieldLogger that keeps logged entries in memory, so tests can assert on them.
// Loggers derived by With and WithLevel share the storage with the parent.
type Recorder struct {
	*log.LogfAdapter
	store *entryStore
}

// NewRecorder returns a Recorder that records messages of all levels.
func NewRecorder() *Recorder {
	store := &entryStore{}
	return &Recorder{LogfAdapter: &log.LogfAdapter{Logger: logf.NewLogger(logf.LevelDebug, store)}, store: store}
}

// With returns a derived Recorder with additional fields.
func (r *Recorder) With(fs ...log.Field) log.FieldLogger {
	return &Recorder{LogfAdapter: r.LogfAdapter.With(fs...).(*log.LogfAdapter), store: r.store}
}

// WithLevel returns a derived Recorder with additional level check.
func (r *Recorder) WithLevel(level log.Level) log.FieldLogger {
	return &Recorder{LogfAdapter: r.LogfAdapter.WithLevel(level).(*log.LogfAdapter), store: r.store}
}

// Entries returns all recorded entries in the order they were logged.
func (r *Recorder) Entries() []RecordedEntry {
	return r.store.filter(nil)
}

// FindEntry returns the first entry with the given message.
func (r *Recorder) FindEntry(msg string) (RecordedEntry, bool) {
	return r.FindEntryByFilter(func(e RecordedEntry) bool { return e.Text == msg })
}

// FindEntryByFilter returns the first entry for which filter returns true.
func (r *Recorder) FindEntryByFilter(filter func(entry RecordedEntry) bool) (RecordedEntry, bool) {
	found := r.store.filter(filter)
	if len(found) == 0 {
		return RecordedEntry{}, false
	}
	return found[0], true
}

// FindAllEntriesByFilter returns all entries for which filter returns true.
func (r *Recorder) FindAllEntriesByFilter(filter func(entry RecordedEntry) bool) []RecordedEntry {
	return r.store.filter(filter)
}

// FindAllEntriesByResourceKey returns all entries logged for the resource key.
func (r *Recorder) FindAllEntriesByResourceKey(resourceKey string) []RecordedEntry {
	return r.store.filter(func(e RecordedEntry) bool { return e.FieldString("resource_key") == resourceKey })
}

// Reset drops all recorded entries.
func (r *Recorder) Reset() {
	r.store.mu.Lock()
	r.store.entries = nil
	r.store.mu.Unlock()
}

func levelFromLogf(value logf.Level) log.Level {
	switch value {
	case logf.LevelError:
		return log.LevelError
	case logf.LevelWarn:
		return log.LevelWarn
	case logf.LevelDebug:
		return log.LevelDebug
	default:
		return log.LevelInfo
	}
}
