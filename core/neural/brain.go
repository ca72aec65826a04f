package neural

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Engine-wide state defaults.
const (
	DefaultFiringThreshold   = 0.3
	DefaultRefractoryPeriod  = 500 * time.Millisecond
	DefaultHomeostaticTarget = 0.5
)

// BrainConfig carries the tunable parameters of one brain. Zero values are
// replaced with defaults by Normalize.
type BrainConfig struct {
	DecayRate                 float64 `yaml:"decay_rate" json:"decay_rate"`
	ReinforcementDelta        float64 `yaml:"reinforcement_delta" json:"reinforcement_delta"`
	ActivationThreshold       float64 `yaml:"activation_threshold" json:"activation_threshold"`
	MaxSpreadHops             int     `yaml:"max_spread_hops" json:"max_spread_hops"`
	MaxContextTokens          int     `yaml:"max_context_tokens" json:"max_context_tokens"`
	LearningRate              float64 `yaml:"learning_rate" json:"learning_rate"`
	WeightNormalizationBudget float64 `yaml:"weight_normalization_budget" json:"weight_normalization_budget"`
	NoveltyBoostMax           float64 `yaml:"novelty_boost_max" json:"novelty_boost_max"`
	NoveltyDecayRate          float64 `yaml:"novelty_decay_rate" json:"novelty_decay_rate"`
	SigmoidSteepness          float64 `yaml:"sigmoid_steepness" json:"sigmoid_steepness"`
	DefaultFiringThreshold    float64 `yaml:"default_firing_threshold" json:"default_firing_threshold"`
	DefaultRefractoryMs       int     `yaml:"default_refractory_ms" json:"default_refractory_ms"`
	LateralInhibitionK        int     `yaml:"lateral_inhibition_k" json:"lateral_inhibition_k"`
	LateralInhibitionFactor   float64 `yaml:"lateral_inhibition_factor" json:"lateral_inhibition_factor"`
	CoActivationThreshold     int     `yaml:"co_activation_threshold" json:"co_activation_threshold"`
	CoActivationWindowDays    int     `yaml:"co_activation_window_days" json:"co_activation_window_days"`
	MaxInferencesPerRun       int     `yaml:"max_inferences_per_run" json:"max_inferences_per_run"`
	PruneThreshold            float64 `yaml:"prune_threshold" json:"prune_threshold"`
}

// DefaultBrainConfig returns the documented defaults.
func DefaultBrainConfig() BrainConfig {
	return BrainConfig{
		DecayRate:                 0.1,
		ReinforcementDelta:        0.05,
		ActivationThreshold:       0.2,
		MaxSpreadHops:             4,
		MaxContextTokens:          1500,
		LearningRate:              0.1,
		WeightNormalizationBudget: 5.0,
		NoveltyBoostMax:           4.0,
		NoveltyDecayRate:          0.2,
		SigmoidSteepness:          6.0,
		DefaultFiringThreshold:    DefaultFiringThreshold,
		DefaultRefractoryMs:       500,
		LateralInhibitionK:        10,
		LateralInhibitionFactor:   0.7,
		CoActivationThreshold:     3,
		CoActivationWindowDays:    7,
		MaxInferencesPerRun:       100,
		PruneThreshold:            0.02,
	}
}

// Normalize fills zero-valued fields with defaults, in place.
func (c *BrainConfig) Normalize() {
	d := DefaultBrainConfig()
	if c.DecayRate == 0 {
		c.DecayRate = d.DecayRate
	}
	if c.ReinforcementDelta == 0 {
		c.ReinforcementDelta = d.ReinforcementDelta
	}
	if c.ActivationThreshold == 0 {
		c.ActivationThreshold = d.ActivationThreshold
	}
	if c.MaxSpreadHops == 0 {
		c.MaxSpreadHops = d.MaxSpreadHops
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = d.MaxContextTokens
	}
	if c.LearningRate == 0 {
		c.LearningRate = d.LearningRate
	}
	if c.WeightNormalizationBudget == 0 {
		c.WeightNormalizationBudget = d.WeightNormalizationBudget
	}
	if c.NoveltyBoostMax == 0 {
		c.NoveltyBoostMax = d.NoveltyBoostMax
	}
	if c.NoveltyDecayRate == 0 {
		c.NoveltyDecayRate = d.NoveltyDecayRate
	}
	if c.SigmoidSteepness == 0 {
		c.SigmoidSteepness = d.SigmoidSteepness
	}
	if c.DefaultFiringThreshold == 0 {
		c.DefaultFiringThreshold = d.DefaultFiringThreshold
	}
	if c.DefaultRefractoryMs == 0 {
		c.DefaultRefractoryMs = d.DefaultRefractoryMs
	}
	if c.LateralInhibitionK == 0 {
		c.LateralInhibitionK = d.LateralInhibitionK
	}
	if c.LateralInhibitionFactor == 0 {
		c.LateralInhibitionFactor = d.LateralInhibitionFactor
	}
	if c.CoActivationThreshold == 0 {
		c.CoActivationThreshold = d.CoActivationThreshold
	}
	if c.CoActivationWindowDays == 0 {
		c.CoActivationWindowDays = d.CoActivationWindowDays
	}
	if c.MaxInferencesPerRun == 0 {
		c.MaxInferencesPerRun = d.MaxInferencesPerRun
	}
	if c.PruneThreshold == 0 {
		c.PruneThreshold = d.PruneThreshold
	}
}

// Brain is the container that exclusively owns its neurons, synapses,
// fibers, and maturation records. Entities never cross brain boundaries
// except through snapshot export/import.
type Brain struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Config    BrainConfig `json:"config"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewBrain creates a brain with normalized config.
func NewBrain(name string, config BrainConfig) *Brain {
	config.Normalize()
	return &Brain{
		ID:        uuid.NewString(),
		Name:      name,
		Config:    config,
		CreatedAt: time.Now().UTC(),
	}
}

// Sigmoid maps a raw activation onto [0,1] with the brain's gating curve:
// a = 1 / (1 + exp(-s*(r - 0.5))).
func Sigmoid(raw, steepness float64) float64 {
	return 1.0 / (1.0 + math.Exp(-steepness*(raw-0.5)))
}

func decayFactor(rate, days float64) float64 {
	return math.Exp(-rate * days)
}
