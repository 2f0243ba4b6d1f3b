package ratelimit

import (
	"fmt"
	"time"
)

// Rule grants PerMinute tokens while the wall-clock minute-of-day lies in
// [Start, End], both inclusive and formatted "HH:MM".
type Rule struct {
	Start     string `yaml:"start" json:"start"`
	End       string `yaml:"end" json:"end"`
	PerMinute int    `yaml:"per_minute" json:"per_minute"`
}

// Schedule is an ordered rule list; the first matching rule wins. The
// Transparência portal quota is the canonical example: 90/min from 06:00 to
// 23:59 and 300/min overnight.
type Schedule []Rule

func (s Schedule) Validate() error {
	for _, rule := range s {
		if _, err := minuteOfDay(rule.Start); err != nil {
			return fmt.Errorf("rule start %q: %w", rule.Start, err)
		}
		if _, err := minuteOfDay(rule.End); err != nil {
			return fmt.Errorf("rule end %q: %w", rule.End, err)
		}
		if rule.PerMinute <= 0 {
			return fmt.Errorf("rule %s-%s: per_minute must be positive", rule.Start, rule.End)
		}
	}
	return nil
}

// CapacityAt resolves the per-minute capacity for wall, falling back to
// fallback when no rule matches or the schedule is empty.
func (s Schedule) CapacityAt(wall time.Time, fallback int) int {
	minute := wall.Hour()*60 + wall.Minute()
	for _, rule := range s {
		start, err := minuteOfDay(rule.Start)
		if err != nil {
			continue
		}
		end, err := minuteOfDay(rule.End)
		if err != nil {
			continue
		}
		if start <= end {
			if minute >= start && minute <= end {
				return rule.PerMinute
			}
			continue
		}
		// Interval wraps midnight.
		if minute >= start || minute <= end {
			return rule.PerMinute
		}
	}
	return fallback
}

func minuteOfDay(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM: %w", err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
