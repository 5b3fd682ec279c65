package cscp

import (
	"errors"
	"testing"
	"time"

	"github.com/constellation-daq/constellation-core/config"
	"github.com/constellation-daq/constellation-core/dictionary"
	"github.com/constellation-daq/constellation-core/fsm"
)

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func waitState(t *testing.T, m *fsm.Machine, want fsm.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if m.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, currently %s", want, m.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type noopHooks struct{ fsm.NoopHooks }

func newTestDispatcher(t *testing.T) (*Dispatcher, *fsm.Machine) {
	t.Helper()
	m := fsm.New(noopHooks{}, nil)
	reg := NewRegistry()
	return &Dispatcher{Name: "sat1", Version: "1.2.3", Machine: m, Registry: reg}, m
}

func TestDispatchGetStateReturnsCurrentState(t *testing.T) {
	d, _ := newTestDispatcher(t)
	reply := d.Dispatch(Request{Verb: "get_state"})
	if reply.Type != ReplySuccess {
		t.Fatalf("expected SUCCESS, got %s", reply.Type)
	}
	v, err := dictionary.DecodeValue(reply.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if s, _ := v.AsString(); s != string(fsm.StateNew) {
		t.Fatalf("expected NEW, got %q", s)
	}
}

func TestDispatchUndefinedVerbIsUnknown(t *testing.T) {
	d, _ := newTestDispatcher(t)
	reply := d.Dispatch(Request{Verb: "not_a_real_command"})
	if reply.Type != ReplyUnknown {
		t.Fatalf("expected UNKNOWN, got %s", reply.Type)
	}
}

func TestDispatchShutdownAllowedOnlyFromNewInitSafe(t *testing.T) {
	d, m := newTestDispatcher(t)
	reply := d.Dispatch(Request{Verb: "shutdown"})
	if reply.Type != ReplySuccess {
		t.Fatalf("expected SUCCESS from NEW, got %s", reply.Type)
	}

	must(t, m.React(fsm.TransitionInitialize, nil))
	waitState(t, m, fsm.StateInit)
	must(t, m.React(fsm.TransitionLaunch, nil))
	waitState(t, m, fsm.StateOrbit)

	reply = d.Dispatch(Request{Verb: "shutdown"})
	if reply.Type != ReplyInvalid {
		t.Fatalf("expected INVALID from ORBIT, got %s", reply.Type)
	}
}

func TestDispatchReconfigureWhileRunIsInvalid(t *testing.T) {
	d, m := newTestDispatcher(t)
	must(t, m.React(fsm.TransitionInitialize, nil))
	waitState(t, m, fsm.StateInit)
	must(t, m.React(fsm.TransitionLaunch, nil))
	waitState(t, m, fsm.StateOrbit)
	must(t, m.React(fsm.TransitionStart, "run-1"))
	waitState(t, m, fsm.StateRun)

	payload, err := dictionary.EncodeDictionary(dictionary.New())
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	reply := d.Dispatch(Request{Verb: "reconfigure", Payload: payload})
	if reply.Type != ReplyInvalid {
		t.Fatalf("expected INVALID, got %s: %s", reply.Type, reply.Description)
	}
}

func TestDispatchUserCommandArityMismatchIsIncomplete(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Registry.Register(Command{
		Name:  "double",
		Nargs: 1,
		Call: func(args []dictionary.Value) (dictionary.Value, error) {
			n, _ := args[0].AsInt()
			return dictionary.NewInt(n * 2), nil
		},
	})
	payload, _ := dictionary.EncodeList(nil)
	reply := d.Dispatch(Request{Verb: "double", Payload: payload})
	if reply.Type != ReplyIncomplete {
		t.Fatalf("expected INCOMPLETE, got %s", reply.Type)
	}
}

func TestDispatchUserCommandSuccess(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Registry.Register(Command{
		Name:  "double",
		Nargs: 1,
		Call: func(args []dictionary.Value) (dictionary.Value, error) {
			n, ok := args[0].AsInt()
			if !ok {
				return dictionary.Value{}, errors.New("not an int")
			}
			return dictionary.NewInt(n * 2), nil
		},
	})
	payload, _ := dictionary.EncodeList(dictionary.Ints(21))
	reply := d.Dispatch(Request{Verb: "double", Payload: payload})
	if reply.Type != ReplySuccess {
		t.Fatalf("expected SUCCESS, got %s: %s", reply.Type, reply.Description)
	}
	v, err := dictionary.DecodeValue(reply.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n, _ := v.AsInt(); n != 42 {
		t.Fatalf("expected 42, got %d", n)
	}
}

func TestDispatchUserCommandDisallowedStateIsInvalid(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Registry.Register(Command{
		Name:        "orbit_only",
		Nargs:       0,
		ValidStates: []fsm.State{fsm.StateOrbit},
		Call: func([]dictionary.Value) (dictionary.Value, error) {
			return dictionary.None(), nil
		},
	})
	reply := d.Dispatch(Request{Verb: "orbit_only"})
	if reply.Type != ReplyInvalid {
		t.Fatalf("expected INVALID, got %s", reply.Type)
	}
}

func TestDispatchGetConfigReturnsUsedKeysOnly(t *testing.T) {
	d, _ := newTestDispatcher(t)
	cfg := config.New()
	cfg.Set("used_key", dictionary.NewInt(1))
	cfg.Set("unused_key", dictionary.NewInt(2))
	_, _ = cfg.GetInt("used_key")
	d.CurrentConfig = func() *config.Configuration { return cfg }

	reply := d.Dispatch(Request{Verb: "get_config"})
	if reply.Type != ReplySuccess {
		t.Fatalf("expected SUCCESS, got %s", reply.Type)
	}
	dict, err := dictionary.DecodeDictionary(reply.Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !dict.Has("used_key") {
		t.Fatal("expected get_config to report the used key")
	}
	if dict.Has("unused_key") {
		t.Fatal("expected get_config to omit the unused key")
	}
}
