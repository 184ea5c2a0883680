package agent

import (
	"fmt"
	"github.com/clustermesh/serf/serf"
	"log/slog"
	"strings"
	"sync"
)

// EventHandler is a handler that does things when events happen.
type EventHandler interface {
	HandleEvent(serf.Event)
}

// ScriptEventHandler invokes scripts for the events that it receives.
type ScriptEventHandler struct {
	Self    serf.Member
	Scripts []EventScript
	Logger  *slog.Logger

	scriptLock sync.Mutex
	newScripts []EventScript
}

func (h *ScriptEventHandler) HandleEvent(e serf.Event) {
	h.scriptLock.Lock()
	if h.newScripts != nil {
		h.Scripts = h.newScripts
		h.newScripts = nil
	}
	h.scriptLock.Unlock()

	if h.Logger == nil {
		h.Logger = slog.Default()
	}

	for _, script := range h.Scripts {
		if !script.Invoke(e) {
			continue
		}

		if err := invokeEventScript(h.Logger, script.Script, h.Self, e); err != nil {
			h.Logger.Error("error invoking script", "script", script.Script, "error", err)
		}
	}
}

// UpdateScripts safely swaps in a new set of scripts for subsequent events.
func (h *ScriptEventHandler) UpdateScripts(scripts []EventScript) {
	h.scriptLock.Lock()
	defer h.scriptLock.Unlock()
	h.newScripts = scripts
}

// EventFilter is used to filter which events are processed.
type EventFilter struct {
	Event     string
	UserEvent string
}

// Invoke tests whether this event script should be invoked for e.
func (s *EventFilter) Invoke(e serf.Event) bool {
	if s.Event == "*" {
		return true
	}

	if e.EventType().String() != s.Event {
		return false
	}

	if s.UserEvent != "" {
		userE, ok := e.(serf.UserEvent)
		if !ok {
			return false
		}
		if userE.Name != s.UserEvent {
			return false
		}
	}

	return true
}

// Valid checks if this is a valid agent event filter.
func (s *EventFilter) Valid() bool {
	switch s.Event {
	case "member-join", "member-leave", "member-failed", "member-update", "member-reap", "user", "query", "*":
		return true
	default:
		return false
	}
}

// EventScript is a single event script, configured from the
// command-line or from a configuration file.
type EventScript struct {
	EventFilter
	Script string
}

func (s *EventScript) String() string {
	if s.UserEvent != "" {
		return fmt.Sprintf("Event 'user:%s' invoking '%s'", s.UserEvent, s.Script)
	}
	return fmt.Sprintf("Event '%s' invoking '%s'", s.Event, s.Script)
}

// ParseEventScript takes a string in "type=script" format and parses it
// into one EventScript per matched filter.
func ParseEventScript(v string) []EventScript {
	var filter, script string
	parts := strings.SplitN(v, "=", 2)
	if len(parts) == 1 {
		script = parts[0]
	} else {
		filter = parts[0]
		script = parts[1]
	}

	filters := ParseEventFilter(filter)
	results := make([]EventScript, 0, len(filters))
	for _, filt := range filters {
		results = append(results, EventScript{EventFilter: filt, Script: script})
	}
	return results
}

// ParseEventFilter parses a comma-separated event-type filter string.
func ParseEventFilter(v string) []EventFilter {
	if v == "" {
		v = "*"
	}

	events := strings.Split(v, ",")
	results := make([]EventFilter, 0, len(events))
	for _, event := range events {
		var userEvent string
		if strings.HasPrefix(event, "user:") {
			userEvent = event[len("user:"):]
			event = "user"
		}
		results = append(results, EventFilter{Event: event, UserEvent: userEvent})
	}
	return results
}
