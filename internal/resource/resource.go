// Package resource defines the documents kept in the resources collection.
package resource

import (
	"encoding/json"
	"fmt"

	"github.com/muaviaUsmani/rrdb/internal/schedule"
)

// TypeEvent is the resourceType of calendar events
const TypeEvent = "Event"

// Resource is a document in the resources collection as written by seeding
// and tests. Only events carry a schedule.
type Resource struct {
	ID           string             `json:"id" yaml:"id"`
	ResourceType string             `json:"resourceType" yaml:"resourceType"`
	Name         string             `json:"name" yaml:"name"`
	IsVisible    *bool              `json:"isVisible,omitempty" yaml:"isVisible,omitempty"`
	Schedule     *schedule.Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// Visible reports the effective visibility flag. A missing flag means visible.
func (r Resource) Visible() bool {
	return r.IsVisible == nil || *r.IsVisible
}

// Document is the projection returned by active event queries: the store
// id plus the name and the schedule exactly as stored.
type Document struct {
	ID       string
	Name     string
	Schedule json.RawMessage
}

// DecodeSchedule parses the stored schedule
func (d Document) DecodeSchedule() (schedule.Schedule, error) {
	var s schedule.Schedule
	if len(d.Schedule) == 0 {
		return s, fmt.Errorf("document %s has no schedule", d.ID)
	}
	if err := json.Unmarshal(d.Schedule, &s); err != nil {
		return s, fmt.Errorf("failed to decode schedule of document %s: %w", d.ID, err)
	}
	return s, nil
}
