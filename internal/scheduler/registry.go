package scheduler

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// triggerIDPattern validates trigger IDs (alphanumeric, underscores, hyphens)
	triggerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// Registry stores the triggers a scheduler fires
type Registry struct {
	mu       sync.RWMutex
	triggers map[string]*Trigger
	parser   cron.Parser
}

// NewRegistry creates a new trigger registry
func NewRegistry() *Registry {
	return &Registry{
		triggers: make(map[string]*Trigger),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Register adds a trigger to the registry
func (r *Registry) Register(trigger *Trigger) error {
	if err := r.validate(trigger); err != nil {
		return fmt.Errorf("invalid trigger: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.triggers[trigger.ID]; exists {
		return fmt.Errorf("trigger with ID %s already exists", trigger.ID)
	}

	if trigger.Timezone == "" {
		trigger.Timezone = "UTC"
	}

	r.triggers[trigger.ID] = trigger
	return nil
}

// MustRegister registers a trigger, panicking on error
func (r *Registry) MustRegister(trigger *Trigger) {
	if err := r.Register(trigger); err != nil {
		panic(fmt.Sprintf("failed to register trigger: %v", err))
	}
}

// Get retrieves a trigger by ID
func (r *Registry) Get(id string) (*Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.triggers[id]
	return t, exists
}

// List returns all registered triggers ordered by ID
func (r *Registry) List() []*Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	triggers := make([]*Trigger, 0, len(r.triggers))
	for _, t := range r.triggers {
		triggers = append(triggers, t)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].ID < triggers[j].ID })
	return triggers
}

// Count returns the number of registered triggers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.triggers)
}

// NextRun calculates the first fire time of trigger strictly after after
func (r *Registry) NextRun(trigger *Trigger, after time.Time) (time.Time, error) {
	cronSchedule, err := r.parser.Parse(trigger.Cron)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cron expression: %w", err)
	}

	loc := time.UTC
	if trigger.Timezone != "" && trigger.Timezone != "UTC" {
		loc, err = time.LoadLocation(trigger.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %s: %w", trigger.Timezone, err)
		}
	}

	return cronSchedule.Next(after.In(loc)), nil
}

func (r *Registry) validate(trigger *Trigger) error {
	if trigger.ID == "" {
		return fmt.Errorf("trigger ID cannot be empty")
	}
	if !triggerIDPattern.MatchString(trigger.ID) {
		return fmt.Errorf("trigger ID must contain only alphanumeric characters, underscores, and hyphens")
	}

	if trigger.Cron == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	if _, err := r.parser.Parse(trigger.Cron); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", trigger.Cron, err)
	}

	if trigger.Job == "" {
		return fmt.Errorf("job name cannot be empty")
	}

	if trigger.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}

	if trigger.Timezone != "" && trigger.Timezone != "UTC" {
		if _, err := time.LoadLocation(trigger.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", trigger.Timezone, err)
		}
	}

	return nil
}
