// Package provider defines the AI capability used for classification and
// candidate selection, and its concrete implementations.
package provider

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/boq-resolver/internal/cost"
	"github.com/sells-group/boq-resolver/internal/model"
	"github.com/sells-group/boq-resolver/pkg/anthropic"
)

// Provider names.
const (
	NameAnthropic = "anthropic"
	NameNone      = "none"
)

// ErrDisabled is returned by every call on a disabled provider.
var ErrDisabled = eris.New("provider: disabled")

// Provider classifies rows and selects among local candidates.
type Provider interface {
	Name() string
	Classify(ctx context.Context, req ClassifyRequest) (*ClassifyResponse, error)
	Select(ctx context.Context, req SelectRequest) (*SelectResponse, error)
}

// ClassifyRow is one row sent for classification.
type ClassifyRow struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// ClassifyRequest asks for a category per row.
type ClassifyRequest struct {
	Rows       []ClassifyRow
	Categories []string
	Context    model.ContextDescriptor
}

// Assignment maps a row index to a category.
type Assignment struct {
	Index    int    `json:"index"`
	Category string `json:"category"`
}

// ClassifyResponse holds one assignment per classified row.
type ClassifyResponse struct {
	Assignments []Assignment `json:"assignments"`
	CostUSD     float64      `json:"-"`
}

// SelectRequest asks the selector to pick one of the local candidates.
type SelectRequest struct {
	Text       string
	Candidates model.CandidateSet
	Context    model.ContextDescriptor
}

// SelectResponse is the selector's answer. SelectedCode is not trusted until
// checked against the candidates that were sent.
type SelectResponse struct {
	SelectedCode string             `json:"selected_code"`
	Confidence   float64            `json:"confidence"`
	Rationale    string             `json:"rationale"`
	Related      []model.RelatedRef `json:"related"`
	CostUSD      float64            `json:"-"`
}

// Config selects and configures the provider explicitly at construction.
type Config struct {
	Name          string  `yaml:"name" mapstructure:"name"`
	APIKey        string  `yaml:"api_key" mapstructure:"api_key"`
	ClassifyModel string  `yaml:"classify_model" mapstructure:"classify_model"`
	SelectModel   string  `yaml:"select_model" mapstructure:"select_model"`
	MaxTokens     int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature   float64 `yaml:"temperature" mapstructure:"temperature"`
	CacheTTL      string  `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// Validate checks that the configuration names a known provider and carries
// what that provider needs.
func (c Config) Validate() error {
	switch strings.ToLower(c.Name) {
	case "", NameNone:
		return nil
	case NameAnthropic:
		if c.APIKey == "" {
			return eris.New("provider: anthropic requires api_key")
		}
		if c.ClassifyModel == "" || c.SelectModel == "" {
			return eris.New("provider: anthropic requires classify_model and select_model")
		}
		if c.Temperature < 0 || c.Temperature > 1 {
			return eris.Errorf("provider: temperature %.2f out of range [0,1]", c.Temperature)
		}
		return nil
	default:
		return eris.Errorf("provider: unknown provider %q", c.Name)
	}
}

// New constructs the provider named by cfg. A nil client builds an SDK client
// from cfg.APIKey; a nil calculator uses the default rates.
func New(cfg Config, client anthropic.Client, calc *cost.Calculator) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Name) {
	case NameAnthropic:
		if client == nil {
			client = anthropic.NewClient(cfg.APIKey)
		}
		if calc == nil {
			calc = cost.NewCalculator(cost.DefaultRates())
		}
		return NewAnthropic(cfg, client, calc), nil
	default:
		return Disabled{}, nil
	}
}

// Disabled is the provider used when no AI backend is configured.
type Disabled struct{}

// Name implements Provider.
func (Disabled) Name() string { return NameNone }

// Classify implements Provider.
func (Disabled) Classify(context.Context, ClassifyRequest) (*ClassifyResponse, error) {
	return nil, ErrDisabled
}

// Select implements Provider.
func (Disabled) Select(context.Context, SelectRequest) (*SelectResponse, error) {
	return nil, ErrDisabled
}
