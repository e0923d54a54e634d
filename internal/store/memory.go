package store

import (
	"context"
	"sync"
	"time"

	"github.com/ironsheep/particle-tools-mcp/internal/particle"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	lastCalibration int64
	lastResearch    int64
	calibrations    map[int64]Calibration
	researches      map[int64]Research

	now func() time.Time
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		calibrations: make(map[int64]Calibration),
		researches:   make(map[int64]Research),
		now:          time.Now,
	}
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) SaveCalibration(_ context.Context, c *Calibration) error {
	if err := c.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == 0 {
		m.lastCalibration++
		c.ID = m.lastCalibration
		c.CreatedAt = m.now().UTC()
	} else {
		prev, ok := m.calibrations[c.ID]
		if !ok {
			return ErrNotFound
		}
		c.CreatedAt = prev.CreatedAt
	}
	m.calibrations[c.ID] = *c
	return nil
}

func (m *Memory) GetCalibration(_ context.Context, id int64) (*Calibration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.calibrations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) ListCalibrations(_ context.Context) ([]Calibration, error) {
	m.mu.RLock()
	out := make([]Calibration, 0, len(m.calibrations))
	for _, c := range m.calibrations {
		out = append(out, c)
	}
	m.mu.RUnlock()

	sortCalibrations(out)
	return out, nil
}

func (m *Memory) DeleteCalibration(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calibrations[id]; !ok {
		return ErrNotFound
	}
	delete(m.calibrations, id)
	return nil
}

func (m *Memory) SaveResearch(_ context.Context, r *Research) error {
	if err := r.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == 0 {
		m.lastResearch++
		r.ID = m.lastResearch
		r.CreatedAt = m.now().UTC()
	} else {
		prev, ok := m.researches[r.ID]
		if !ok {
			return ErrNotFound
		}
		r.CreatedAt = prev.CreatedAt
	}

	stored := *r
	stored.Contours = append([]particle.Measurement(nil), r.Contours...)
	m.researches[r.ID] = stored
	return nil
}

func (m *Memory) GetResearch(_ context.Context, id int64) (*Research, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.researches[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Contours = append([]particle.Measurement(nil), r.Contours...)
	return &r, nil
}

func (m *Memory) ListResearches(_ context.Context) ([]Research, error) {
	m.mu.RLock()
	out := make([]Research, 0, len(m.researches))
	for _, r := range m.researches {
		r.Contours = nil
		out = append(out, r)
	}
	m.mu.RUnlock()

	sortResearches(out)
	return out, nil
}

func (m *Memory) DeleteResearch(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.researches[id]; !ok {
		return ErrNotFound
	}
	delete(m.researches, id)
	return nil
}
