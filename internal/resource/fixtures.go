package resource

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// fixtureFile is the top level of a seed file:
//
//	resources:
//	  - id: spring-fair
//	    resourceType: Event
//	    name: Spring Fair
//	    schedule:
//	      type: once
//	      date: "2024-04-20"
type fixtureFile struct {
	Resources []Resource `yaml:"resources"`
}

// LoadFixtures reads resources from a YAML seed file
func LoadFixtures(path string) ([]Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixtures: %w", err)
	}
	defer f.Close()

	return ReadFixtures(f)
}

// ReadFixtures decodes and validates resources from YAML
func ReadFixtures(r io.Reader) ([]Resource, error) {
	var file fixtureFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}

	seen := make(map[string]bool, len(file.Resources))
	for i, res := range file.Resources {
		if res.ID == "" {
			return nil, fmt.Errorf("resource %d: id cannot be empty", i)
		}
		if seen[res.ID] {
			return nil, fmt.Errorf("resource %d: duplicate id %q", i, res.ID)
		}
		seen[res.ID] = true

		if res.ResourceType == "" {
			return nil, fmt.Errorf("resource %q: resourceType cannot be empty", res.ID)
		}
		if res.ResourceType == TypeEvent && res.Schedule == nil {
			return nil, fmt.Errorf("resource %q: events require a schedule", res.ID)
		}
		if res.Schedule != nil && res.Schedule.IsRecurring() && !res.Schedule.Frequency.Valid() {
			return nil, fmt.Errorf("resource %q: unsupported frequency %q", res.ID, res.Schedule.Frequency)
		}
	}

	return file.Resources, nil
}
