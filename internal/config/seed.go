package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is the operator bootstrap file: weight sets per market and goal
// ratios per campaign.
//
//	weights:
//	  - market: ALL
//	    t0: 0.4
//	    d30: 0.3
//	    d365: 0.2
//	    lifetime: 0.1
//	goals:
//	  "123456": 0.25
type Seed struct {
	Weights []SeedWeights      `yaml:"weights"`
	Goals   map[string]float64 `yaml:"goals"`
}

// SeedWeights is one weight set entry of the seed file.
type SeedWeights struct {
	Market   string  `yaml:"market"`
	T0       float64 `yaml:"t0"`
	D30      float64 `yaml:"d30"`
	D365     float64 `yaml:"d365"`
	Lifetime float64 `yaml:"lifetime"`
}

// LoadSeed reads a seed file. Values are validated when applied, not here.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed YAML.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	for i, w := range s.Weights {
		if w.Market == "" {
			return nil, fmt.Errorf("seed weights[%d]: market is required", i)
		}
	}
	return &s, nil
}
