package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StrategyProfile declares one agent: which model preset it runs on, its
// risk posture and how often it self-critiques. Profiles are a closed set
// loaded at startup; there is no runtime registration.
type StrategyProfile struct {
	Name           string `yaml:"name"`
	Model          string `yaml:"model"`
	RiskProfile    string `yaml:"risk_profile"`
	PromptTemplate string `yaml:"prompt_template"`
	CritiqueEvery  int    `yaml:"critique_every"`
}

type profilesFile struct {
	Agents []StrategyProfile `yaml:"agents"`
}

const defaultCritiqueEvery = 5

// LoadProfiles reads the agent roster from a YAML file.
func LoadProfiles(path string) ([]StrategyProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent profiles: %w", err)
	}
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing agent profiles: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agent profiles: no agents defined in %s", path)
	}
	seen := make(map[string]bool, len(file.Agents))
	for i := range file.Agents {
		p := &file.Agents[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return nil, fmt.Errorf("agent profiles: agent #%d has no name", i+1)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("agent profiles: duplicate agent %q", p.Name)
		}
		seen[p.Name] = true
		if strings.TrimSpace(p.Model) == "" {
			return nil, fmt.Errorf("agent profiles: agent %q has no model", p.Name)
		}
		if p.CritiqueEvery <= 0 {
			p.CritiqueEvery = defaultCritiqueEvery
		}
	}
	return file.Agents, nil
}
