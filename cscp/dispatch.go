package cscp

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/constellation-daq/constellation-core/config"
	"github.com/constellation-daq/constellation-core/dictionary"
	"github.com/constellation-daq/constellation-core/fsm"
	"github.com/constellation-daq/constellation-core/obsv"
)

// transitionVerbs maps CSCP verb names to the FSM transitions they drive.
var transitionVerbs = map[string]fsm.Transition{
	"initialize":  fsm.TransitionInitialize,
	"launch":      fsm.TransitionLaunch,
	"land":        fsm.TransitionLand,
	"reconfigure": fsm.TransitionReconfigure,
	"start":       fsm.TransitionStart,
	"stop":        fsm.TransitionStop,
}

// Dispatcher implements the CSCP dispatch order against one satellite's FSM
// and user command registry: transition verbs, then standard
// verbs, then user commands, then UNKNOWN.
type Dispatcher struct {
	Name     string
	Version  string
	Machine  *fsm.Machine
	Registry *Registry

	// CurrentConfig returns the satellite's active configuration, used by
	// get_config to report the used-keys subset. May be nil if the satellite
	// has not yet been initialized.
	CurrentConfig func() *config.Configuration
}

// Dispatch runs req through the dispatch order and returns the reply to send.
func (d *Dispatcher) Dispatch(req Request) Reply {
	var requestID string
	if req.Header.Tags != nil {
		if v, ok := req.Header.Tags.Get("request_id"); ok {
			requestID, _ = v.AsString()
		}
	}
	_, span := otel.Tracer(obsv.TracerName).Start(context.Background(), "cscp.dispatch",
		trace.WithAttributes(
			attribute.String("cscp.verb", req.Verb),
			attribute.String("cscp.request_id", requestID),
		),
	)
	defer span.End()

	reply := d.dispatch(req)
	span.SetAttributes(attribute.String("cscp.reply_type", string(reply.Type)))
	return reply
}

func (d *Dispatcher) dispatch(req Request) Reply {
	if t, ok := transitionVerbs[req.Verb]; ok {
		return d.dispatchTransition(req, t)
	}
	if reply, handled := d.dispatchStandard(req); handled {
		return reply
	}
	return d.dispatchUserCommand(req)
}

func (d *Dispatcher) dispatchTransition(req Request, t fsm.Transition) Reply {
	var payload any
	switch t {
	case fsm.TransitionInitialize, fsm.TransitionReconfigure:
		if req.Payload != nil {
			dict, err := dictionary.DecodeDictionary(req.Payload)
			if err != nil {
				return Reply{Type: ReplyIncomplete, Description: err.Error()}
			}
			payload = config.FromDictionary(dict)
		} else {
			payload = config.New()
		}
	case fsm.TransitionStart:
		if req.Payload != nil {
			v, err := dictionary.DecodeValue(req.Payload)
			if err != nil {
				return Reply{Type: ReplyIncomplete, Description: err.Error()}
			}
			runID, ok := v.AsString()
			if !ok {
				return Reply{Type: ReplyIncomplete, Description: "start requires a string run identifier"}
			}
			payload = runID
		}
	}

	replyType, desc := d.Machine.ReactCommand(t, payload)
	switch replyType {
	case fsm.ReplySuccess:
		return Reply{Type: ReplySuccess, Description: desc}
	default:
		return Reply{Type: ReplyInvalid, Description: desc}
	}
}

func (d *Dispatcher) dispatchStandard(req Request) (Reply, bool) {
	switch req.Verb {
	case "get_name":
		return replyWith(ReplySuccess, d.Name, stringPayload(d.Name)), true
	case "get_version":
		return replyWith(ReplySuccess, d.Version, stringPayload(d.Version)), true
	case "get_commands":
		descriptions := d.Registry.DescribeAll()
		dict := dictionary.New()
		for name, desc := range descriptions {
			dict.Set(name, dictionary.NewString(desc))
		}
		payload, err := dictionary.EncodeDictionary(dict)
		if err != nil {
			return Reply{Type: ReplyError, Description: err.Error()}, true
		}
		return Reply{Type: ReplySuccess, Description: "ok", Payload: payload}, true
	case "get_state":
		state := string(d.Machine.State())
		return replyWith(ReplySuccess, state, stringPayload(state)), true
	case "get_status":
		status := d.Machine.Status()
		return replyWith(ReplySuccess, status, stringPayload(status)), true
	case "get_config":
		return d.replyGetConfig(), true
	case "get_run_id":
		runID := d.Machine.RunIdentifier()
		return replyWith(ReplySuccess, runID, stringPayload(runID)), true
	case "shutdown":
		if !fsm.ShutdownAllowedStates[d.Machine.State()] {
			return Reply{Type: ReplyInvalid, Description: fmt.Sprintf("shutdown not allowed from %s", d.Machine.State())}, true
		}
		return Reply{Type: ReplySuccess, Description: "shutting down"}, true
	default:
		return Reply{}, false
	}
}

func (d *Dispatcher) replyGetConfig() Reply {
	if d.CurrentConfig == nil {
		return Reply{Type: ReplySuccess, Description: "ok"}
	}
	cfg := d.CurrentConfig()
	if cfg == nil {
		return Reply{Type: ReplySuccess, Description: "ok"}
	}
	all := cfg.GetAll()
	unused := make(map[string]bool)
	for _, key := range cfg.GetUnusedKeys() {
		unused[key] = true
	}
	used := dictionary.New()
	for _, key := range all.Keys() {
		if unused[key] {
			continue
		}
		v, _ := all.Get(key)
		used.Set(key, v)
	}
	payload, err := dictionary.EncodeDictionary(used)
	if err != nil {
		return Reply{Type: ReplyError, Description: err.Error()}
	}
	return Reply{Type: ReplySuccess, Description: "ok", Payload: payload}
}

func (d *Dispatcher) dispatchUserCommand(req Request) Reply {
	var args dictionary.List
	if req.Payload != nil {
		v, err := dictionary.DecodeValue(req.Payload)
		if err != nil {
			return Reply{Type: ReplyIncomplete, Description: err.Error()}
		}
		if !v.IsNone() {
			l, ok := dictionary.ListFromValue(v)
			if !ok {
				return Reply{Type: ReplyIncomplete, Description: "command arguments payload must be a list"}
			}
			args = l
		}
	}

	result, err := d.Registry.Invoke(req.Verb, d.Machine.State(), args)
	if err != nil {
		switch err.(type) {
		case *UnknownUserCommandError:
			return Reply{Type: ReplyUnknown, Description: err.Error()}
		case *InvalidUserCommandError:
			return Reply{Type: ReplyInvalid, Description: err.Error()}
		case *MissingUserCommandArgumentsError, *InvalidUserCommandArgumentsError:
			return Reply{Type: ReplyIncomplete, Description: err.Error()}
		default:
			return Reply{Type: ReplyIncomplete, Description: err.Error()}
		}
	}
	if result.IsNone() {
		return Reply{Type: ReplySuccess, Description: "ok"}
	}
	payload, err := dictionary.EncodeValue(result)
	if err != nil {
		return Reply{Type: ReplyError, Description: err.Error()}
	}
	return Reply{Type: ReplySuccess, Description: "ok", Payload: payload}
}

func stringPayload(s string) []byte {
	b, _ := dictionary.EncodeValue(dictionary.NewString(s))
	return b
}

func replyWith(t ReplyType, desc string, payload []byte) Reply {
	return Reply{Type: t, Description: desc, Payload: payload}
}
