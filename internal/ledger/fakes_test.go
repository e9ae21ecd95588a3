package ledger

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"clockbot/internal/config"
	"clockbot/internal/db/models"
)

// memStore is an in-memory Store with the same uniqueness rules as the
// postgres schema.
type memStore struct {
	mu     sync.Mutex
	nextID int64

	sessions   map[int64]*models.Session
	archived   map[int64][]models.Session
	active     map[int64][]models.AttendanceRecord
	historical map[int64][]models.AttendanceRecord

	// failure injection
	getSessionErr      error
	storeHistoricalErr func(rec *models.AttendanceRecord) error
	archiveErr         error
	deleteSessionErr   error
	// hideSession makes GetSession miss the current row, as if another
	// process opened it after the read
	hideSession bool
}

func newMemStore() *memStore {
	return &memStore{
		sessions:   make(map[int64]*models.Session),
		archived:   make(map[int64][]models.Session),
		active:     make(map[int64][]models.AttendanceRecord),
		historical: make(map[int64][]models.AttendanceRecord),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) GetSession(ctx context.Context, guildID int64) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getSessionErr != nil {
		return nil, m.getSessionErr
	}
	if m.hideSession {
		return nil, nil
	}
	s, ok := m.sessions[guildID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) SetSession(ctx context.Context, guildID int64, s *models.Session) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[guildID]; ok {
		return 0, ErrSessionAlreadyOpen
	}
	for _, old := range m.archived[guildID] {
		if old.Name == s.Name {
			return 0, ErrDuplicateSessionName
		}
	}
	cp := *s
	cp.RowID = m.id()
	m.sessions[guildID] = &cp
	return cp.RowID, nil
}

func (m *memStore) DeleteSession(ctx context.Context, guildID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteSessionErr != nil {
		return m.deleteSessionErr
	}
	delete(m.sessions, guildID)
	return nil
}

func (m *memStore) StoreHistoricalSession(ctx context.Context, guildID int64, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.archiveErr != nil {
		return m.archiveErr
	}
	for _, old := range m.archived[guildID] {
		if old.Name == s.Name {
			return nil
		}
	}
	m.archived[guildID] = append(m.archived[guildID], *s)
	return nil
}

func (m *memStore) GetAllActive(ctx context.Context, guildID int64) ([]models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AttendanceRecord(nil), m.active[guildID]...), nil
}

func (m *memStore) StoreActive(ctx context.Context, guildID int64, rec *models.AttendanceRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.active[guildID] {
		if a.UserID == rec.UserID {
			return 0, ErrAlreadyActive
		}
	}
	cp := *rec
	cp.RowID = m.id()
	m.active[guildID] = append(m.active[guildID], cp)
	return cp.RowID, nil
}

// forceActive bypasses the uniqueness rule to simulate corrupted data.
func (m *memStore) forceActive(guildID int64, rec models.AttendanceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.RowID = m.id()
	m.active[guildID] = append(m.active[guildID], rec)
}

func (m *memStore) RemoveActive(ctx context.Context, guildID int64, rec *models.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	actives := m.active[guildID]
	for i, a := range actives {
		if a.RowID == rec.RowID {
			m.active[guildID] = append(actives[:i:i], actives[i+1:]...)
			return nil
		}
	}
	return ErrNotActive
}

func (m *memStore) StoreHistorical(ctx context.Context, guildID int64, rec *models.AttendanceRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeHistoricalErr != nil {
		if err := m.storeHistoricalErr(rec); err != nil {
			return 0, err
		}
	}
	cp := *rec
	cp.RowID = m.id()
	m.historical[guildID] = append(m.historical[guildID], cp)
	return cp.RowID, nil
}

func (m *memStore) GetHistorical(ctx context.Context, guildID int64) ([]models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AttendanceRecord(nil), m.historical[guildID]...), nil
}

func (m *memStore) GetHistoricalForUser(ctx context.Context, guildID, userID int64) ([]models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AttendanceRecord
	for _, r := range m.historical[guildID] {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) GetHistoricalRecord(ctx context.Context, guildID, rowID int64) (*models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.historical[guildID] {
		if r.RowID == rowID {
			cp := r
			return &cp, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *memStore) DeleteHistorical(ctx context.Context, guildID, rowID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.historical[guildID]
	for i, r := range records {
		if r.RowID == rowID {
			m.historical[guildID] = append(records[:i:i], records[i+1:]...)
			return nil
		}
	}
	return ErrRecordNotFound
}

// memQueue is an in-memory ReplacementQueue.
type memQueue struct {
	mu       sync.Mutex
	entries  map[int64][]models.ReplacementEntry
	clearErr error
}

func newMemQueue() *memQueue {
	return &memQueue{entries: make(map[int64][]models.ReplacementEntry)}
}

func (q *memQueue) add(guildID, userID, ts int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[guildID] = append(q.entries[guildID], models.ReplacementEntry{GuildID: guildID, UserID: userID, InTimestamp: ts})
	sort.SliceStable(q.entries[guildID], func(i, j int) bool {
		return q.entries[guildID][i].InTimestamp < q.entries[guildID][j].InTimestamp
	})
}

func (q *memQueue) Before(ctx context.Context, guildID, userID, now int64) ([]models.ReplacementEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	threshold := now
	for _, e := range q.entries[guildID] {
		if e.UserID == userID {
			threshold = e.InTimestamp
		}
	}
	var out []models.ReplacementEntry
	for _, e := range q.entries[guildID] {
		if e.UserID != userID && e.InTimestamp < threshold {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q *memQueue) Remove(ctx context.Context, guildID, userID int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.entries[guildID]
	for i, e := range entries {
		if e.UserID == userID {
			q.entries[guildID] = append(entries[:i:i], entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueue) Clear(ctx context.Context, guildID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.clearErr != nil {
		return q.clearErr
	}
	delete(q.entries, guildID)
	return nil
}

func (q *memQueue) len(guildID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries[guildID])
}

type staticSettings map[int64]config.GuildConfig

func (s staticSettings) Guild(guildID int64) config.GuildConfig {
	return s[guildID]
}

const testGuild int64 = 1

// at returns the epoch seconds of 2024-03-01 hh:mm UTC plus day days.
func at(day, hh, mm int) int64 {
	return time.Date(2024, 3, 1+day, hh, mm, 0, 0, time.UTC).Unix()
}

type fixture struct {
	ledger   *Ledger
	store    *memStore
	queue    *memQueue
	settings staticSettings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	queue := newMemQueue()
	settings := staticSettings{
		testGuild: {
			BonusHours: []config.BonusWindow{{Start: "18:00", End: "20:00", Pct: 50}},
		},
	}
	return &fixture{
		ledger:   New(store, queue, settings, time.UTC, nil),
		store:    store,
		queue:    queue,
		settings: settings,
	}
}

func (f *fixture) startSession(t *testing.T, name string, now int64) {
	t.Helper()
	_, err := f.ledger.StartSession(context.Background(), StartSessionRequest{
		GuildID:     testGuild,
		Name:        name,
		CreatedBy:   99,
		CreatorName: "admin",
		Now:         now,
	})
	require.NoError(t, err)
}

func (f *fixture) clockIn(t *testing.T, userID, now int64) *ClockInResult {
	t.Helper()
	res, err := f.ledger.ClockIn(context.Background(), ClockInRequest{
		GuildID:     testGuild,
		UserID:      userID,
		DisplayName: "member",
		Now:         now,
	})
	require.NoError(t, err)
	return res
}
