package cscp

import (
	"fmt"
	"strings"
	"sync"

	"github.com/constellation-daq/constellation-core/dictionary"
	"github.com/constellation-daq/constellation-core/fsm"
)

// Callable is a registered user command's implementation. args has already
// been arity-checked against the command's declared Nargs; it converts and
// validates each argument itself, returning InvalidUserCommandArgumentsError
// on a type mismatch and InvalidUserCommandResultError if its own return
// value cannot be expressed as a Value.
type Callable func(args []dictionary.Value) (dictionary.Value, error)

// Command is one entry in the user command registry.
type Command struct {
	Name        string
	Description string
	Nargs       int
	ValidStates []fsm.State // empty means callable from any state
	Call        Callable
}

func (c Command) allowedFrom(s fsm.State) bool {
	if len(c.ValidStates) == 0 {
		return true
	}
	for _, allowed := range c.ValidStates {
		if allowed == s {
			return true
		}
	}
	return false
}

// describe renders one DescribeAll entry over three lines: the description,
// the argument count, and either "can be called in all states" or the
// enumerated allowed-state list.
func (c Command) describe() string {
	var states string
	if len(c.ValidStates) == 0 {
		states = "can be called in all states"
	} else {
		names := make([]string, len(c.ValidStates))
		for i, s := range c.ValidStates {
			names[i] = string(s)
		}
		states = "can be called in states: " + strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s\nThis command requires %d argument(s).\nThis command %s.", c.Description, c.Nargs, states)
}

// Registry holds the satellite's dynamically registered user commands,
// keyed by lowercased name.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds or replaces a command under its lowercased name.
func (r *Registry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[strings.ToLower(cmd.Name)] = cmd
}

// Lookup returns the command registered under the lowercased name, if any.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// DescribeAll returns name -> multi-line description for every registered
// command.
func (r *Registry) DescribeAll() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.commands))
	for name, cmd := range r.commands {
		out[name] = cmd.describe()
	}
	return out
}

// Invoke runs the named command with args against state. It returns the
// typed UserCommandError variants from on any dispatch failure.
func (r *Registry) Invoke(name string, state fsm.State, args []dictionary.Value) (dictionary.Value, error) {
	cmd, ok := r.Lookup(name)
	if !ok {
		return dictionary.Value{}, NewUnknownUserCommandError(name)
	}
	if !cmd.allowedFrom(state) {
		return dictionary.Value{}, NewInvalidUserCommandError(name, string(state))
	}
	if len(args) != cmd.Nargs {
		return dictionary.Value{}, NewMissingUserCommandArgumentsError(name, cmd.Nargs, len(args))
	}
	result, err := cmd.Call(args)
	if err != nil {
		switch err.(type) {
		case *InvalidUserCommandArgumentsError, *InvalidUserCommandResultError:
			return dictionary.Value{}, err
		}
		return dictionary.Value{}, NewInvalidUserCommandArgumentsError(name, err.Error())
	}
	return result, nil
}
