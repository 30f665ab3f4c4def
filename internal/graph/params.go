package graph

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// MaturityRule maps a lifecycle tag to a static score multiplier.
type MaturityRule struct {
	Tag        string  `yaml:"tag"`
	Multiplier float64 `yaml:"multiplier"`
}

// Promotion moves a note from one lifecycle tag to another once it has more
// than MinLinks outbound links.
type Promotion struct {
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	MinLinks int    `yaml:"min_links"`
}

// Params holds every coefficient and threshold of the activation model.
// The zero value is not usable; start from DefaultParams.
type Params struct {
	CoefStructure float64 `yaml:"coef_structure"`
	CoefRecency   float64 `yaml:"coef_recency"`
	// Maturity is evaluated in order; the first rule whose tag the note
	// carries wins.
	Maturity      []MaturityRule `yaml:"maturity"`
	DefaultWeight float64        `yaml:"default_weight"`

	FatigueTolerance  float64 `yaml:"fatigue_tolerance"`
	DecayRate         float64 `yaml:"decay_rate"`
	PropagationRate   float64 `yaml:"propagation_rate"`
	PropagationFloor  float64 `yaml:"propagation_floor"`
	DirectBoost       float64 `yaml:"direct_boost"`
	TagBoost          float64 `yaml:"tag_boost"`
	IgnitionThreshold float64 `yaml:"ignition_threshold"`
	SnapshotSize      int     `yaml:"snapshot_size"`

	CrystallizeTolerance float64 `yaml:"crystallize_tolerance"`
	SaveThreshold        float64 `yaml:"save_threshold"`

	Promotions       []Promotion `yaml:"promotions"`
	ArchiveAfterDays int         `yaml:"archive_after_days"`
	ArchiveTag       string      `yaml:"archive_tag"`
}

// DefaultParams returns the calibrated defaults.
func DefaultParams() Params {
	return Params{
		CoefStructure: 1.5,
		CoefRecency:   10,
		Maturity: []MaturityRule{
			{Tag: "état/evergreen", Multiplier: 1.2},
			{Tag: "état/sapling", Multiplier: 0.8},
			{Tag: "état/graine", Multiplier: 0.5},
		},
		DefaultWeight:        50,
		FatigueTolerance:     4,
		DecayRate:            0.95,
		PropagationRate:      0.2,
		PropagationFloor:     1.0,
		DirectBoost:          20,
		TagBoost:             2.5,
		IgnitionThreshold:    60,
		SnapshotSize:         20,
		CrystallizeTolerance: 0.5,
		SaveThreshold:        0.1,
		Promotions: []Promotion{
			{From: "état/graine", To: "état/sapling", MinLinks: 2},
		},
		ArchiveAfterDays: 730,
		ArchiveTag:       "archives",
	}
}

// Validate validates the parameters.
func (p *Params) Validate() error {
	if err := validation.ValidateStruct(p,
		validation.Field(&p.CoefStructure, validation.Min(0.0)),
		validation.Field(&p.CoefRecency, validation.Min(0.0)),
		validation.Field(&p.FatigueTolerance, validation.Min(0.0)),
		validation.Field(&p.DecayRate, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&p.PropagationRate, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&p.PropagationFloor, validation.Min(0.0)),
		validation.Field(&p.DirectBoost, validation.Min(0.0)),
		validation.Field(&p.TagBoost, validation.Min(0.0)),
		validation.Field(&p.SnapshotSize, validation.Required, validation.Min(1)),
		validation.Field(&p.CrystallizeTolerance, validation.Min(0.0)),
		validation.Field(&p.SaveThreshold, validation.Min(0.0)),
		validation.Field(&p.ArchiveAfterDays, validation.Min(0)),
	); err != nil {
		return err
	}
	for i, r := range p.Maturity {
		if r.Tag == "" || r.Multiplier < 0 {
			return fmt.Errorf("maturity[%d]: tag must be set and multiplier non-negative", i)
		}
	}
	for i, pr := range p.Promotions {
		if pr.From == "" || pr.To == "" || pr.From == pr.To {
			return fmt.Errorf("promotions[%d]: from and to must be distinct non-empty tags", i)
		}
	}
	return nil
}
