package models

// AttendanceRecord is one clock-in/clock-out interval of a member.
//
// While active OutTimestamp is nil and the record lives in the active set.
// Once closed it is appended to history and only ever replaced by an admin
// delete-and-reinsert. The Debug* fields are display metadata and are never
// read back into ledger logic.
type AttendanceRecord struct {
	RowID        int64  `db:"id"`
	GuildID      int64  `db:"guild_id"`
	UserID       int64  `db:"user_id"`
	Character    string `db:"character"`
	Session      string `db:"session"`
	InTimestamp  int64  `db:"in_timestamp"`
	OutTimestamp *int64 `db:"out_timestamp"`

	DebugUserName string  `db:"debug_user_name"`
	DebugIn       string  `db:"debug_in"`
	DebugOut      string  `db:"debug_out"`
	DebugDelta    float64 `db:"debug_delta"`
}

// Active reports whether the record has not been clocked out yet.
func (r *AttendanceRecord) Active() bool {
	return r.OutTimestamp == nil
}

// Seconds returns out - in, or 0 while active.
func (r *AttendanceRecord) Seconds() int64 {
	if r.OutTimestamp == nil {
		return 0
	}
	return *r.OutTimestamp - r.InTimestamp
}

// Out returns the clock-out timestamp or 0 while active.
func (r *AttendanceRecord) Out() int64 {
	if r.OutTimestamp == nil {
		return 0
	}
	return *r.OutTimestamp
}

// Timestamp returns a pointer to ts, for filling OutTimestamp.
func Timestamp(ts int64) *int64 {
	return &ts
}
