// Package store persists calibrations and completed researches.
//
// Two backends implement Store: Memory, for tests and single-session use, and
// Redis, which keeps records as JSON values with a sorted-set index per record
// kind.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ironsheep/particle-tools-mcp/internal/batch"
	"github.com/ironsheep/particle-tools-mcp/internal/config"
	"github.com/ironsheep/particle-tools-mcp/internal/particle"
)

var (
	// ErrNotFound is returned for an unknown record ID.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidRecord is returned by Save for records that fail validation.
	ErrInvalidRecord = errors.New("invalid record")
)

// Calibration is a saved coefficient for one microscope setup.
type Calibration struct {
	ID         int64         `json:"id"`
	Name       string        `json:"name"`
	Microscope string        `json:"microscope"`
	Mode       particle.Mode `json:"mode,omitempty"`

	// Coefficient is pixels per division; DivisionPrice is units per division.
	Coefficient   float64 `json:"coefficient"`
	DivisionPrice float64 `json:"division_price"`

	CreatedAt time.Time `json:"created_at"`
}

// Profile returns the conversion profile the calibration describes. A
// calibration in DEFAULT mode reports pixels.
func (c Calibration) Profile() particle.CalibrationProfile {
	return c.Mode.Profile(c.Coefficient, c.DivisionPrice)
}

func (c *Calibration) validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: calibration name is required", ErrInvalidRecord)
	case c.Coefficient < 0:
		return fmt.Errorf("%w: coefficient must not be negative", ErrInvalidRecord)
	case c.DivisionPrice < 0:
		return fmt.Errorf("%w: division price must not be negative", ErrInvalidRecord)
	}
	if c.Mode != "" {
		mode, err := particle.ParseMode(string(c.Mode))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		c.Mode = mode
	}
	return nil
}

// Research is a saved batch result with its metadata.
type Research struct {
	ID          int64          `json:"id"`
	Description string         `json:"description"`
	PerformedBy string         `json:"performed_by"`
	Device      string         `json:"device"`
	CreatedAt   time.Time      `json:"date"`
	Averages    batch.Averages `json:"averages"`

	// Contours is omitted by List.
	Contours []particle.Measurement `json:"contours,omitempty"`
}

func (r *Research) validate() error {
	if r.Description == "" {
		return fmt.Errorf("%w: research description is required", ErrInvalidRecord)
	}
	return nil
}

// NewResearch builds a research record from a batch result.
func NewResearch(description, performedBy, device string, res *batch.Result) *Research {
	contours := make([]particle.Measurement, len(res.Measurements))
	copy(contours, res.Measurements)
	return &Research{
		Description: description,
		PerformedBy: performedBy,
		Device:      device,
		Averages:    res.Averages,
		Contours:    contours,
	}
}

// CalibrationStore persists calibrations.
//
// Save creates a record when ID is 0, assigning ID and CreatedAt, and
// replaces the stored record otherwise. List returns newest first.
type CalibrationStore interface {
	SaveCalibration(ctx context.Context, c *Calibration) error
	GetCalibration(ctx context.Context, id int64) (*Calibration, error)
	ListCalibrations(ctx context.Context) ([]Calibration, error)
	DeleteCalibration(ctx context.Context, id int64) error
}

// ResearchStore persists researches with the same semantics as
// CalibrationStore. ListResearches leaves Contours empty.
type ResearchStore interface {
	SaveResearch(ctx context.Context, r *Research) error
	GetResearch(ctx context.Context, id int64) (*Research, error)
	ListResearches(ctx context.Context) ([]Research, error)
	DeleteResearch(ctx context.Context, id int64) error
}

// Store is a complete record backend.
type Store interface {
	CalibrationStore
	ResearchStore
	Close() error
}

// Open returns the backend selected by cfg.
func Open(cfg config.Store) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(cfg)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

func sortCalibrations(cs []Calibration) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].CreatedAt.After(cs[j].CreatedAt)
		}
		return cs[i].ID > cs[j].ID
	})
}

func sortResearches(rs []Research) {
	sort.SliceStable(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID > rs[j].ID
	})
}
