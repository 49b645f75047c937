package domain

// HistoryRecord is the persisted running transcript of one conversation.
type HistoryRecord struct {
	ConversationKey string
	Text            string
	ExpiresAt       int64
}

// HistoryLookup is the result of a history load. A lookup is either Present
// with a record or Absent; an Absent lookup never carries a record, and a
// Present one may carry an empty transcript.
type HistoryLookup struct {
	record  HistoryRecord
	present bool
}

// Present wraps a record that was found in the store.
func Present(rec HistoryRecord) HistoryLookup {
	return HistoryLookup{record: rec, present: true}
}

// Absent is the "no prior history" lookup.
func Absent() HistoryLookup {
	return HistoryLookup{}
}

// Get returns the record and whether one was found.
func (h HistoryLookup) Get() (HistoryRecord, bool) {
	return h.record, h.present
}

func (h HistoryLookup) IsPresent() bool {
	return h.present
}
