package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// ErrTriggerNotPermitted is returned when a stage cannot be recorded from the current state
var ErrTriggerNotPermitted = errors.New("stage not permitted from current state")

// StateMachine tracks the shipment state and validates recorded stages
type StateMachine interface {
	State() State
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns the triggers accepted in the current state, sorted
	PermittedTriggers() []Trigger
}

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine instance with the given initial state
	Build(initialState State) StateMachine
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitReentry allows a trigger that leaves the state unchanged
	PermitReentry(trigger Trigger) StateConfiguration

	// Ignore accepts a trigger in this state without changing it
	Ignore(trigger Trigger) StateConfiguration
}

// ruleKey addresses the rule of one trigger in one state
type ruleKey struct {
	from    State
	trigger Trigger
}

// rule is a permitted transition. An ignore rule accepts the trigger without moving.
type rule struct {
	to     State
	ignore bool
}

// ruleTable holds one rule per key; configuring a key again replaces its rule
type ruleTable map[ruleKey]rule

func (t ruleTable) clone() ruleTable {
	out := make(ruleTable, len(t))
	for k, r := range t {
		out[k] = r
	}
	return out
}

type stateMachineBuilder struct {
	rules   ruleTable
	handles map[State]*stateConfig
}

// stateConfig is the fluent handle returned by Configure
type stateConfig struct {
	from  State
	rules ruleTable
}

// NewBuilder creates a new state machine builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{
		rules:   make(ruleTable),
		handles: make(map[State]*stateConfig),
	}
}

// Configure returns the configuration handle of state. Unknown states panic.
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if h, ok := b.handles[state]; ok {
		return h
	}
	h := &stateConfig{from: state, rules: b.rules}
	b.handles[state] = h
	return h
}

// Build snapshots the rules into a machine starting at initialState.
// Later configuration does not reach machines already built.
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}
	return &stateMachine{current: initialState, rules: b.rules.clone()}
}

func (c *stateConfig) add(trigger Trigger, r rule) StateConfiguration {
	c.rules[ruleKey{from: c.from, trigger: trigger}] = r
	return c
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	return c.add(trigger, rule{to: toState})
}

func (c *stateConfig) PermitReentry(trigger Trigger) StateConfiguration {
	return c.add(trigger, rule{to: c.from})
}

func (c *stateConfig) Ignore(trigger Trigger) StateConfiguration {
	return c.add(trigger, rule{to: c.from, ignore: true})
}

type stateMachine struct {
	current State
	rules   ruleTable
}

func (m *stateMachine) State() State {
	return m.current
}

// Fire applies the rule of trigger in the current state
func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	r, ok := m.rules[ruleKey{from: m.current, trigger: trigger}]
	if !ok {
		return fmt.Errorf("%w: %s from state %s", ErrTriggerNotPermitted, trigger, m.current)
	}
	if !r.ignore {
		m.current = r.to
	}
	return nil
}

func (m *stateMachine) PermittedTriggers() []Trigger {
	triggers := make([]Trigger, 0)
	for k := range m.rules {
		if k.from == m.current {
			triggers = append(triggers, k.trigger)
		}
	}
	slices.Sort(triggers)
	return triggers
}
