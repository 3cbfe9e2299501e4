package workflow

import "fmt"

// GuardFunc evaluates whether a record may advance along a transition
type GuardFunc func(r *Record) bool

// TableBuilder builds an immutable transition table
type TableBuilder interface {
	// Configure returns the configuration for transitions leaving the given step
	Configure(step Step) StepConfiguration

	// Build freezes the configured transitions into a table
	Build() *Table
}

// StepConfiguration configures the forward transitions of one step
type StepConfiguration interface {
	// Advance unconditionally moves to the target step
	Advance(to Step) StepConfiguration

	// AdvanceIf moves to the target step when the guard passes
	AdvanceIf(to Step, guard GuardFunc) StepConfiguration
}

type transition struct {
	to    Step
	guard GuardFunc
}

type stepConfig struct {
	from        Step
	transitions []transition
}

type tableBuilder struct {
	configurations map[Step]*stepConfig
}

// Table maps each step to its guarded forward transitions.
// Tables are read-only after Build and safe for concurrent use.
type Table struct {
	configurations map[Step][]transition
}

// NewTableBuilder creates a new transition table builder
func NewTableBuilder() TableBuilder {
	return &tableBuilder{
		configurations: make(map[Step]*stepConfig),
	}
}

// Configure returns the configuration for the given step
func (b *tableBuilder) Configure(step Step) StepConfiguration {
	if !step.IsValid() {
		panic(fmt.Sprintf("invalid step: %s", step))
	}

	config, exists := b.configurations[step]
	if !exists {
		config = &stepConfig{from: step}
		b.configurations[step] = config
	}
	return config
}

// Build copies the configured transitions into an immutable table
func (b *tableBuilder) Build() *Table {
	configs := make(map[Step][]transition, len(b.configurations))
	for step, config := range b.configurations {
		configs[step] = append([]transition{}, config.transitions...)
	}
	return &Table{configurations: configs}
}

// Advance unconditionally moves to the target step
func (c *stepConfig) Advance(to Step) StepConfiguration {
	return c.AdvanceIf(to, nil)
}

// AdvanceIf moves to the target step when the guard passes
func (c *stepConfig) AdvanceIf(to Step, guard GuardFunc) StepConfiguration {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target step: %s", to))
	}
	c.transitions = append(c.transitions, transition{to: to, guard: guard})
	return c
}

// Next returns the first target whose guard passes, or the current step
func (t *Table) Next(r *Record) Step {
	for _, tr := range t.configurations[r.Step] {
		if tr.guard == nil || tr.guard(r) {
			return tr.to
		}
	}
	return r.Step
}

// Targets returns the possible targets from a step, in evaluation order
func (t *Table) Targets(step Step) []Step {
	transitions := t.configurations[step]
	targets := make([]Step, 0, len(transitions))
	for _, tr := range transitions {
		targets = append(targets, tr.to)
	}
	return targets
}
