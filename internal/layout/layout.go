// Package layout loads the static depot geometry (floors, checkpoints and bays)
// and writes it to the store.
package layout

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bus-depot-backend/internal/model"
	"bus-depot-backend/internal/parse"
	"bus-depot-backend/internal/store"
)

// Layout is the depot geometry.
type Layout struct {
	Floors []Floor `yaml:"floors"`
}

// Floor is one level with its checkpoints and bays.
type Floor struct {
	Level       int          `yaml:"level"`
	Checkpoints []Checkpoint `yaml:"checkpoints"`
	Bays        []Bay        `yaml:"bays"`
}

type Checkpoint struct {
	Name string  `yaml:"name"`
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
}

type Bay struct {
	Code     string  `yaml:"code"`
	Area     string  `yaml:"area"`
	Lot      int     `yaml:"lot"`
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
	Charging bool    `yaml:"charging"`
}

// Summary counts what Apply wrote.
type Summary struct {
	Floors      int `json:"floors"`
	Checkpoints int `json:"checkpoints"`
	Bays        int `json:"bays"`
}

// Load reads and validates a layout file.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a YAML layout.
func Parse(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Validate checks that levels, bay codes and checkpoint names are unique, that
// both gate checkpoints exist and that every transition checkpoint leads from
// its own floor to an existing adjacent floor.
func (l *Layout) Validate() error {
	if len(l.Floors) == 0 {
		return errors.New("layout has no floors")
	}

	levels := make(map[int]bool, len(l.Floors))
	for _, f := range l.Floors {
		if f.Level <= 0 {
			return fmt.Errorf("invalid level %d", f.Level)
		}
		if levels[f.Level] {
			return fmt.Errorf("duplicate level %d", f.Level)
		}
		levels[f.Level] = true
	}

	var errs []error
	codes := make(map[string]bool)
	gates := map[string]bool{}
	for _, f := range l.Floors {
		names := make(map[string]bool, len(f.Checkpoints))
		for _, cp := range f.Checkpoints {
			if cp.Name == "" {
				errs = append(errs, fmt.Errorf("level %d: checkpoint without name", f.Level))
				continue
			}
			if names[cp.Name] {
				errs = append(errs, fmt.Errorf("level %d: duplicate checkpoint %q", f.Level, cp.Name))
			}
			names[cp.Name] = true
			if cp.Name == model.CheckpointEntrance || cp.Name == model.CheckpointExit {
				gates[cp.Name] = true
			}
			if !parse.IsTransition(cp.Name) {
				continue
			}
			tr, err := parse.ParseTransition(cp.Name)
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("level %d: %w", f.Level, err))
			case tr.From != f.Level:
				errs = append(errs, fmt.Errorf("level %d: transition %q starts on level %d", f.Level, cp.Name, tr.From))
			case !levels[tr.To]:
				errs = append(errs, fmt.Errorf("level %d: transition %q leads to missing level %d", f.Level, cp.Name, tr.To))
			}
		}
		for _, b := range f.Bays {
			if b.Code == "" || b.Area == "" {
				errs = append(errs, fmt.Errorf("level %d: bay needs code and area", f.Level))
				continue
			}
			if codes[b.Code] {
				errs = append(errs, fmt.Errorf("duplicate bay code %q", b.Code))
			}
			codes[b.Code] = true
		}
	}
	for _, name := range []string{model.CheckpointEntrance, model.CheckpointExit} {
		if !gates[name] {
			errs = append(errs, fmt.Errorf("missing gate checkpoint %q", name))
		}
	}
	return errors.Join(errs...)
}

// Apply upserts the layout. Existing bays keep their occupancy.
func (l *Layout) Apply(ctx context.Context, s store.Store) (Summary, error) {
	levels := make([]int, 0, len(l.Floors))
	for _, f := range l.Floors {
		levels = append(levels, f.Level)
	}
	floors, err := s.UpsertFloors(ctx, levels)
	if err != nil {
		return Summary{}, err
	}

	var checkpoints []model.Checkpoint
	var bays []model.Bay
	for _, f := range l.Floors {
		floorID := floors[f.Level].ID
		for _, cp := range f.Checkpoints {
			checkpoints = append(checkpoints, model.Checkpoint{FloorID: floorID, Name: cp.Name, X: cp.X, Y: cp.Y})
		}
		for _, b := range f.Bays {
			bays = append(bays, model.Bay{
				BayCode:       b.Code,
				AreaCode:      b.Area,
				LotNumber:     b.Lot,
				FloorID:       floorID,
				X:             b.X,
				Y:             b.Y,
				IsChargingBay: b.Charging,
				IsAvailable:   true,
			})
		}
	}

	if err := s.UpsertCheckpoints(ctx, checkpoints); err != nil {
		return Summary{}, fmt.Errorf("upsert checkpoints: %w", err)
	}
	if err := s.UpsertBays(ctx, bays); err != nil {
		return Summary{}, fmt.Errorf("upsert bays: %w", err)
	}
	return Summary{Floors: len(levels), Checkpoints: len(checkpoints), Bays: len(bays)}, nil
}

// Default returns a depot of levels 1..levels. Level 1 holds both gates; every
// level has waypoints CP1..CP4, transition checkpoints to its neighbours and two
// areas of lotsPerArea bays: a charging area (A on level 1, C on level 2, ...)
// and a plain one (B, D, ...). Bays are 40 units apart.
// Default generates a layout of identical levels. Each level has a charging
// area and a plain area; area letters run on across levels (A and B on level 1,
// C and D on level 2) so bay codes stay unique.
func Default(levels, lotsPerArea int) *Layout {
	l := &Layout{}
	for lvl := 1; lvl <= levels; lvl++ {
		f := Floor{Level: lvl}
		if lvl == 1 {
			f.Checkpoints = append(f.Checkpoints,
				Checkpoint{Name: model.CheckpointEntrance, X: 20, Y: 20},
				Checkpoint{Name: model.CheckpointExit, X: 380, Y: 20},
			)
		}
		f.Checkpoints = append(f.Checkpoints,
			Checkpoint{Name: "CP1", X: 100, Y: 60},
			Checkpoint{Name: "CP2", X: 200, Y: 60},
			Checkpoint{Name: "CP3", X: 300, Y: 60},
			Checkpoint{Name: "CP4", X: 300, Y: 260},
		)
		if lvl < levels {
			f.Checkpoints = append(f.Checkpoints, Checkpoint{Name: parse.TransitionName(lvl, lvl+1, parse.Up), X: 380, Y: 150})
		}
		if lvl > 1 {
			f.Checkpoints = append(f.Checkpoints, Checkpoint{Name: parse.TransitionName(lvl, lvl-1, parse.Down), X: 20, Y: 150})
		}
		for i := 0; i < 2; i++ {
			area := string(rune('A' + (lvl-1)*2 + i))
			for lot := 1; lot <= lotsPerArea; lot++ {
				f.Bays = append(f.Bays, Bay{
					Code:     fmt.Sprintf("%s%02d", area, lot),
					Area:     area,
					Lot:      lot,
					X:        float64(40 + lot*40),
					Y:        float64(100 + i*100),
					Charging: i == 0,
				})
			}
		}
		l.Floors = append(l.Floors, f)
	}
	return l
}
