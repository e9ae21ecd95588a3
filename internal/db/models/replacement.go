package models

// ReplacementEntry is a member waiting in a guild's replacement queue.
type ReplacementEntry struct {
	GuildID     int64
	UserID      int64
	InTimestamp int64
}
