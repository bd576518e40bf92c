package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleet-telemetry/internal/models"
)

// MemoryStore 内存实现（无数据库时的本地调试与单元测试）
type MemoryStore struct {
	mu        sync.RWMutex
	devices   map[string]models.Device
	positions map[string]models.PositionSample
	incidents map[string]models.IncidentEvent
	odometer  map[string]models.OdometerSample
	cursors   map[models.EntityKind]models.SyncCursor
	now       func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:   map[string]models.Device{},
		positions: map[string]models.PositionSample{},
		incidents: map[string]models.IncidentEvent{},
		odometer:  map[string]models.OdometerSample{},
		cursors:   map[models.EntityKind]models.SyncCursor{},
		now:       time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

// WithinTx 写操作先缓存在事务内，fn 成功后在同一把锁内一次性应用
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	tx := &memoryTx{MemoryStore: m}
	if err := fn(tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range tx.ops {
		op()
	}
	return nil
}

func (m *MemoryStore) UpsertDevices(_ context.Context, devices []models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertDevicesLocked(devices)
	return nil
}

func (m *MemoryStore) upsertDevicesLocked(devices []models.Device) {
	for _, d := range devices {
		m.devices[d.ID] = d
	}
}

func (m *MemoryStore) EnsureDevices(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureDevicesLocked(ids)
	return nil
}

func (m *MemoryStore) ensureDevicesLocked(ids []string) {
	for _, id := range ids {
		if _, ok := m.devices[id]; !ok {
			m.devices[id] = models.Device{ID: id}
		}
	}
}

func (m *MemoryStore) ResolvedDeviceIDs(_ context.Context, ids []string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if d, ok := m.devices[id]; ok && d.ResolvedAt != nil {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *MemoryStore) GetDevice(_ context.Context, id string) (*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, fmt.Errorf("device %s: %w", id, models.ErrNotFound)
	}
	return &d, nil
}

func (m *MemoryStore) ListDevices(_ context.Context) ([]models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DisplayName(), out[j].DisplayName()
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpsertPositions(_ context.Context, rows []models.PositionSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertPositionsLocked(rows)
	return nil
}

func (m *MemoryStore) upsertPositionsLocked(rows []models.PositionSample) {
	for _, p := range rows {
		m.positions[p.ID] = p
	}
}

func (m *MemoryStore) ListPositions(_ context.Context, deviceID string, from, to time.Time) ([]models.PositionSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PositionSample
	for _, p := range m.positions {
		if p.DeviceID == deviceID && inWindow(p.DateTime, from, to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out, nil
}

func (m *MemoryStore) NearestPosition(ctx context.Context, deviceID string, at time.Time, window time.Duration) (*models.PositionSample, error) {
	candidates, _ := m.ListPositions(ctx, deviceID, at.Add(-window), at.Add(window))
	if len(candidates) == 0 {
		return nil, models.ErrNotFound
	}
	best := candidates[0]
	bestDiff := absDuration(best.DateTime.Sub(at))
	for _, p := range candidates[1:] {
		// 候选已按时间升序，差值相同保留较早的一条
		if d := absDuration(p.DateTime.Sub(at)); d < bestDiff {
			best, bestDiff = p, d
		}
	}
	return &best, nil
}

func (m *MemoryStore) PositionStats(_ context.Context) ([]DevicePositionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byDevice := map[string]*DevicePositionStats{}
	for _, p := range m.positions {
		st, ok := byDevice[p.DeviceID]
		if !ok {
			name := p.DeviceID
			if d, ok := m.devices[p.DeviceID]; ok {
				name = d.DisplayName()
			}
			st = &DevicePositionStats{DeviceID: p.DeviceID, DeviceName: name, FirstFix: p.DateTime, LastFix: p.DateTime}
			byDevice[p.DeviceID] = st
		}
		st.Count++
		if p.DateTime.Before(st.FirstFix) {
			st.FirstFix = p.DateTime
		}
		if p.DateTime.After(st.LastFix) {
			st.LastFix = p.DateTime
		}
	}
	out := make([]DevicePositionStats, 0, len(byDevice))
	for _, st := range byDevice {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out, nil
}

func (m *MemoryStore) UpsertIncidents(_ context.Context, rows []models.IncidentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertIncidentsLocked(rows)
	return nil
}

func (m *MemoryStore) upsertIncidentsLocked(rows []models.IncidentEvent) {
	for _, e := range rows {
		m.incidents[e.ID] = e
	}
}

func (m *MemoryStore) ListIncidents(_ context.Context, filter IncidentFilter) ([]IncidentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []IncidentRow
	for _, e := range m.incidents {
		if !inWindow(e.DateTime, filter.From, filter.To) {
			continue
		}
		if filter.DeviceID != "" && e.DeviceID != filter.DeviceID {
			continue
		}
		if len(filter.Rules) > 0 && !containsString(filter.Rules, e.RuleName) {
			continue
		}
		if len(filter.Severities) > 0 && !containsSeverity(filter.Severities, e.Severity) {
			continue
		}
		name := e.DeviceID
		if d, ok := m.devices[e.DeviceID]; ok {
			name = d.DisplayName()
		}
		out = append(out, IncidentRow{IncidentEvent: e, DeviceName: name})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateTime.Equal(out[j].DateTime) {
			return out[i].DateTime.Before(out[j].DateTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpsertOdometerSamples(_ context.Context, rows []models.OdometerSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertOdometerLocked(rows)
	return nil
}

func (m *MemoryStore) upsertOdometerLocked(rows []models.OdometerSample) {
	for _, o := range rows {
		m.odometer[o.ID] = o
	}
}

func (m *MemoryStore) OdometerRanges(_ context.Context, from, to time.Time, deviceID string) ([]OdometerRange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byDevice := map[string]*OdometerRange{}
	for _, o := range m.odometer {
		if !inWindow(o.DateTime, from, to) {
			continue
		}
		if deviceID != "" && o.DeviceID != deviceID {
			continue
		}
		r, ok := byDevice[o.DeviceID]
		if !ok {
			r = &OdometerRange{DeviceID: o.DeviceID, MinKm: o.OdometerKm, MaxKm: o.OdometerKm}
			byDevice[o.DeviceID] = r
		}
		r.Samples++
		if o.OdometerKm < r.MinKm {
			r.MinKm = o.OdometerKm
		}
		if o.OdometerKm > r.MaxKm {
			r.MaxKm = o.OdometerKm
		}
	}
	out := make([]OdometerRange, 0, len(byDevice))
	for _, r := range byDevice {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (m *MemoryStore) GetCursor(_ context.Context, kind models.EntityKind) (*models.SyncCursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cursors[kind]
	if !ok {
		return nil, models.ErrCursorNotFound
	}
	return &c, nil
}

func (m *MemoryStore) SaveCursor(_ context.Context, kind models.EntityKind, toVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCursorLocked(kind, toVersion)
	return nil
}

func (m *MemoryStore) saveCursorLocked(kind models.EntityKind, toVersion string) {
	v := toVersion
	m.cursors[kind] = models.SyncCursor{Entity: kind, ToVersion: &v, UpdatedAt: m.now().UTC()}
}

// Counts 各表行数（测试与调试用）
func (m *MemoryStore) Counts() (devices, positions, incidents, odometer int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices), len(m.positions), len(m.incidents), len(m.odometer)
}

// memoryTx 内存事务：读直接访问底层存储，写在提交时统一应用
type memoryTx struct {
	*MemoryStore
	ops []func()
}

func (t *memoryTx) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memoryTx) UpsertDevices(_ context.Context, devices []models.Device) error {
	rows := append([]models.Device(nil), devices...)
	t.ops = append(t.ops, func() { t.upsertDevicesLocked(rows) })
	return nil
}

func (t *memoryTx) EnsureDevices(_ context.Context, ids []string) error {
	rows := append([]string(nil), ids...)
	t.ops = append(t.ops, func() { t.ensureDevicesLocked(rows) })
	return nil
}

func (t *memoryTx) UpsertPositions(_ context.Context, rows []models.PositionSample) error {
	cp := append([]models.PositionSample(nil), rows...)
	t.ops = append(t.ops, func() { t.upsertPositionsLocked(cp) })
	return nil
}

func (t *memoryTx) UpsertIncidents(_ context.Context, rows []models.IncidentEvent) error {
	cp := append([]models.IncidentEvent(nil), rows...)
	t.ops = append(t.ops, func() { t.upsertIncidentsLocked(cp) })
	return nil
}

func (t *memoryTx) UpsertOdometerSamples(_ context.Context, rows []models.OdometerSample) error {
	cp := append([]models.OdometerSample(nil), rows...)
	t.ops = append(t.ops, func() { t.upsertOdometerLocked(cp) })
	return nil
}

func (t *memoryTx) SaveCursor(_ context.Context, kind models.EntityKind, toVersion string) error {
	t.ops = append(t.ops, func() { t.saveCursorLocked(kind, toVersion) })
	return nil
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsSeverity(list []models.Severity, s models.Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
