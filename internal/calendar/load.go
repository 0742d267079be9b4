package calendar

import (
	_ "embed"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

//go:embed nyse.yaml
var nyseYAML []byte

// File is the YAML representation of a calendar.
type File struct {
	Name        string            `yaml:"name"`
	Timezone    string            `yaml:"timezone"`
	Open        string            `yaml:"open"`
	Close       string            `yaml:"close"`
	Holidays    []string          `yaml:"holidays"`
	EarlyCloses map[string]string `yaml:"early_closes"`
}

// Default returns the embedded NYSE calendar.
func Default() (*Calendar, error) {
	return Parse(nyseYAML)
}

// LoadFile reads a calendar from a YAML file at path.
func LoadFile(path string) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calendar %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a calendar from YAML.
func Parse(data []byte) (*Calendar, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCalendar, err)
	}
	return f.Build()
}

// Build validates f and constructs the calendar.
func (f File) Build() (*Calendar, error) {
	if f.Timezone == "" {
		return nil, fmt.Errorf("%w: timezone is required", ErrInvalidCalendar)
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: loading timezone %q: %v", ErrInvalidCalendar, f.Timezone, err)
	}
	open, err := ParseTimeOfDay(f.Open)
	if err != nil {
		return nil, err
	}
	closeAt, err := ParseTimeOfDay(f.Close)
	if err != nil {
		return nil, err
	}

	cal, err := New(f.Name, loc, open, closeAt)
	if err != nil {
		return nil, err
	}
	for _, h := range f.Holidays {
		if err := cal.AddHoliday(h); err != nil {
			return nil, err
		}
	}
	for date, at := range f.EarlyCloses {
		tod, err := ParseTimeOfDay(at)
		if err != nil {
			return nil, err
		}
		if err := cal.AddEarlyClose(date, tod); err != nil {
			return nil, err
		}
	}
	return cal, nil
}
