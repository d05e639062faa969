package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sauerbraten/jsonfile"

	"github.com/jrobinson2112-cmyk/solunaris-time-bot/internal/domain"
)

// stateFileRecord is the on-disk state.json shape. Older files carry the
// calibration instant under "real_epoch".
type stateFileRecord struct {
	RealTime  *float64 `json:"real_time,omitempty"`
	RealEpoch *float64 `json:"real_epoch,omitempty"`
	Year      int      `json:"year"`
	Day       int      `json:"day"`
	Hour      int      `json:"hour"`
	Minute    int      `json:"minute"`
}

// StateFile mirrors the calibration to a JSON file so it can be inspected or
// carried between hosts. The file may contain // comment lines.
type StateFile struct {
	Path string
}

// Load reads the calibration from the file
func (f StateFile) Load() (domain.CalibrationRecord, error) {
	var raw stateFileRecord
	if err := jsonfile.ParseFile(f.Path, &raw); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.CalibrationRecord{}, ErrNotFound
		}
		return domain.CalibrationRecord{}, fmt.Errorf("reading state file %s: %w", f.Path, err)
	}

	rec := domain.CalibrationRecord{Year: raw.Year, Day: raw.Day, Hour: raw.Hour, Minute: raw.Minute}
	switch {
	case raw.RealTime != nil:
		rec.RealTime = *raw.RealTime
	case raw.RealEpoch != nil:
		rec.RealTime = *raw.RealEpoch
	default:
		return domain.CalibrationRecord{}, fmt.Errorf("state file %s has no real_time", f.Path)
	}
	return rec, nil
}

// SaveCalibration writes the file atomically. It satisfies clock.Persister.
func (f StateFile) SaveCalibration(ctx context.Context, point domain.CalibrationPoint) error {
	commit, _, err := f.StageCalibration(ctx, point)
	if err != nil {
		return err
	}
	return commit()
}

// StageCalibration writes point to a temporary file beside Path. commit
// renames it into place; discard removes it.
func (f StateFile) StageCalibration(_ context.Context, point domain.CalibrationPoint) (commit func() error, discard func(), err error) {
	data, err := json.MarshalIndent(point.Record(), "", "  ")
	if err != nil {
		return nil, nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".state-*.json")
	if err != nil {
		return nil, nil, fmt.Errorf("writing state file: %w", err)
	}
	name := tmp.Name()
	discard = func() { os.Remove(name) }

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		discard()
		return nil, nil, fmt.Errorf("writing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		discard()
		return nil, nil, fmt.Errorf("writing state file: %w", err)
	}

	commit = func() error {
		if err := os.Rename(name, f.Path); err != nil {
			discard()
			return fmt.Errorf("writing state file: %w", err)
		}
		return nil
	}
	return commit, discard, nil
}

// stager is a persister that can prepare a write and apply it later
type stager interface {
	StageCalibration(ctx context.Context, point domain.CalibrationPoint) (commit func() error, discard func(), err error)
}

// Persisters fans a calibration out to several stores. Stagers are prepared
// first and only committed once every other persister has saved, so a failure
// before that point leaves every store unchanged.
type Persisters []interface {
	SaveCalibration(ctx context.Context, point domain.CalibrationPoint) error
}

// SaveCalibration saves to every persister, stopping at the first failure
func (ps Persisters) SaveCalibration(ctx context.Context, point domain.CalibrationPoint) error {
	var commits []func() error
	var discards []func()
	discardAll := func() {
		for _, d := range discards {
			d()
		}
	}

	for _, p := range ps {
		s, ok := p.(stager)
		if !ok {
			continue
		}
		commit, discard, err := s.StageCalibration(ctx, point)
		if err != nil {
			discardAll()
			return err
		}
		commits = append(commits, commit)
		discards = append(discards, discard)
	}

	for _, p := range ps {
		if _, ok := p.(stager); ok {
			continue
		}
		if err := p.SaveCalibration(ctx, point); err != nil {
			discardAll()
			return err
		}
	}

	for _, commit := range commits {
		if err := commit(); err != nil {
			return err
		}
	}
	return nil
}
