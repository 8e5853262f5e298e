// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package prices holds the hourly electricity price cache and the
// comparator predicates evaluated against it.
package prices

import (
	"fmt"
	"time"
)

// Level is the provider's qualitative price level for an hour, ordered from
// very cheap to very expensive.
type Level int

const (
	LevelUnknown Level = iota
	LevelVeryCheap
	LevelCheap
	LevelNormal
	LevelExpensive
	LevelVeryExpensive
)

var levelNames = map[Level]string{
	LevelVeryCheap:     "VERY_CHEAP",
	LevelCheap:         "CHEAP",
	LevelNormal:        "NORMAL",
	LevelExpensive:     "EXPENSIVE",
	LevelVeryExpensive: "VERY_EXPENSIVE",
}

// String returns the provider's wire name for the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalJSON encodes the level as the provider's enum string.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON decodes the provider's enum string. Unknown values map to
// LevelUnknown rather than failing, so a new provider level cannot break
// price decoding.
func (l *Level) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("price level must be a string, got %s", s)
	}
	s = s[1 : len(s)-1]

	for level, name := range levelNames {
		if name == s {
			*l = level
			return nil
		}
	}
	*l = LevelUnknown
	return nil
}

// Entry is a single hour's price quote. Entries are immutable values,
// unique by StartsAt.
type Entry struct {
	StartsAt time.Time `json:"startsAt"`
	Total    float64   `json:"total"`
	Energy   float64   `json:"energy"`
	Tax      float64   `json:"tax"`
	Level    Level     `json:"level"`
}
