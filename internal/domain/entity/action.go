package entity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionSchemaVersion is the action encoding the model is asked to produce.
// Any other version (or shape) is a parse error, never a guess.
const ActionSchemaVersion = 1

type ActionName string

const (
	ActionTap       ActionName = "tap"
	ActionDoubleTap ActionName = "double_tap"
	ActionLongPress ActionName = "long_press"
	ActionSwipe     ActionName = "swipe"
	ActionType      ActionName = "type"
	ActionBack      ActionName = "back"
	ActionHome      ActionName = "home"
	ActionLaunch    ActionName = "launch"
	ActionWait      ActionName = "wait"
	ActionFinish    ActionName = "finish"
	ActionAbort     ActionName = "abort"
)

func (a ActionName) String() string {
	return string(a)
}

// Action is one proposed device interaction, decoded from the model's reply.
// Coordinates are in the 0-1000 relative range; adapters scale them to the
// actual screen size.
type Action struct {
	Version int        `json:"v"`
	Name    ActionName `json:"action"`
	X       int        `json:"x,omitempty"`
	Y       int        `json:"y,omitempty"`
	ToX     int        `json:"to_x,omitempty"`
	ToY     int        `json:"to_y,omitempty"`
	Text    string     `json:"text,omitempty"`
	App     string     `json:"app,omitempty"`
	Seconds float64    `json:"seconds,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Message string     `json:"message,omitempty"`
}

// Terminal reports whether the action ends the run instead of touching the device.
func (a *Action) Terminal() bool {
	return a.Name == ActionFinish || a.Name == ActionAbort
}

// iOS has no hardware back key; WebDriverAgent offers no equivalent gesture
// that is safe to fake. Everything else is common to all three backends.
var unsupportedActions = map[DeviceType]map[ActionName]bool{
	DeviceIOS: {ActionBack: true},
}

// SupportedBy reports whether the action is part of the device type's
// capability set.
func (a *Action) SupportedBy(dt DeviceType) bool {
	return !unsupportedActions[dt][a.Name]
}

var validActions = map[ActionName]bool{
	ActionTap: true, ActionDoubleTap: true, ActionLongPress: true,
	ActionSwipe: true, ActionType: true, ActionBack: true, ActionHome: true,
	ActionLaunch: true, ActionWait: true, ActionFinish: true, ActionAbort: true,
}

// ParseAction decodes the model's reply into an Action. The reply may wrap the
// JSON object in a markdown code fence or surrounding prose; anything beyond
// that tolerance is an error.
func ParseAction(raw string) (*Action, error) {
	payload, err := extractJSONObject(raw)
	if err != nil {
		return nil, err
	}

	var a Action
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	if a.Version != ActionSchemaVersion {
		return nil, fmt.Errorf("unsupported action schema version %d", a.Version)
	}
	if !validActions[a.Name] {
		return nil, fmt.Errorf("unknown action %q", string(a.Name))
	}

	switch a.Name {
	case ActionTap, ActionDoubleTap, ActionLongPress:
		if !inRange(a.X) || !inRange(a.Y) {
			return nil, fmt.Errorf("%s: coordinates out of 0-1000 range", a.Name)
		}
	case ActionSwipe:
		if !inRange(a.X) || !inRange(a.Y) || !inRange(a.ToX) || !inRange(a.ToY) {
			return nil, fmt.Errorf("swipe: coordinates out of 0-1000 range")
		}
	case ActionType:
		if a.Text == "" {
			return nil, fmt.Errorf("type: text must not be empty")
		}
	case ActionLaunch:
		if a.App == "" {
			return nil, fmt.Errorf("launch: app must not be empty")
		}
	case ActionWait:
		if a.Seconds <= 0 || a.Seconds > 30 {
			return nil, fmt.Errorf("wait: seconds must be in (0, 30]")
		}
	}

	return &a, nil
}

func inRange(v int) bool {
	return v >= 0 && v <= 1000
}

// extractJSONObject returns the first balanced top-level JSON object in s.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in reply")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in reply")
}
