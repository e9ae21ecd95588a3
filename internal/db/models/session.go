package models

// Session is a named tracking period of a guild. EndTimestamp and EndedBy
// are zero while the session is open.
type Session struct {
	RowID          int64  `db:"id"`
	GuildID        int64  `db:"guild_id"`
	Name           string `db:"session"`
	CreatedBy      int64  `db:"created_by"`
	EndedBy        int64  `db:"ended_by"`
	StartTimestamp int64  `db:"start_timestamp"`
	EndTimestamp   int64  `db:"end_timestamp"`

	DebugStart     string  `db:"debug_start"`
	DebugStartedBy string  `db:"debug_started_by"`
	DebugEnd       string  `db:"debug_end"`
	DebugEndedBy   string  `db:"debug_ended_by"`
	DebugDelta     float64 `db:"debug_delta"`
}

// Open reports whether the session has not been ended.
func (s *Session) Open() bool {
	return s.EndTimestamp == 0
}

// Seconds returns the session length, or 0 while open.
func (s *Session) Seconds() int64 {
	if s.Open() {
		return 0
	}
	return s.EndTimestamp - s.StartTimestamp
}
