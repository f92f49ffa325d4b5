package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("config: trading.symbols must list at least one valid symbol")
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model preset required")
	}
	names := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("config: models[%d] has no name", i)
		}
		if names[m.Name] {
			return fmt.Errorf("config: duplicate model preset %q", m.Name)
		}
		names[m.Name] = true
		if strings.TrimSpace(m.Model) == "" {
			return fmt.Errorf("config: model preset %q has no model id", m.Name)
		}
	}
	if c.Scheduler.DenseIntervalSeconds > c.Scheduler.SparseIntervalSeconds {
		return fmt.Errorf("config: dense interval (%ds) must not exceed sparse interval (%ds)",
			c.Scheduler.DenseIntervalSeconds, c.Scheduler.SparseIntervalSeconds)
	}
	return nil
}
