package router

import (
	"strings"

	"github.com/Laisky/errors/v2"
)

// Router kinds addressable through the model field.
const (
	KindCode    = "code"
	KindGeneral = "general"
)

// Code router modes.
const (
	ModeAuto    = "auto"
	ModePrice   = "price"
	ModeQuality = "quality"
	ModeAgentic = "agentic"
)

// General router modes.
const (
	ModeBalanced = "balanced"
	ModeCost     = "cost"
	ModeLatency  = "latency"
)

// Directive is a parsed routing request such as "router:code:quality".
type Directive struct {
	Kind string
	Mode string
}

var codeModes = map[string]bool{
	ModeAuto: true, ModePrice: true, ModeQuality: true, ModeAgentic: true,
}

var generalModes = map[string]bool{
	ModeBalanced: true, ModeQuality: true, ModeCost: true, ModeLatency: true,
}

// ParseDirective recognizes router directives in the model field. Accepted
// forms are "router:code[:mode]" / "router:general[:mode]" and the
// hyphenated aliases "gatewayz-code[-mode]" / "gatewayz-general[-mode]".
// ok is false for ordinary model ids.
func ParseDirective(modelID string) (d Directive, ok bool, err error) {
	raw := strings.TrimSpace(strings.ToLower(modelID))

	var parts []string
	switch {
	case strings.HasPrefix(raw, "router:"):
		parts = strings.Split(strings.TrimPrefix(raw, "router:"), ":")
	case strings.HasPrefix(raw, "gatewayz-"):
		parts = strings.SplitN(strings.TrimPrefix(raw, "gatewayz-"), "-", 2)
	default:
		return Directive{}, false, nil
	}

	if len(parts) == 0 || parts[0] == "" {
		return Directive{}, true, errors.Errorf("malformed router directive %q", modelID)
	}

	d.Kind = parts[0]
	if len(parts) > 1 && parts[1] != "" {
		d.Mode = parts[1]
	}

	switch d.Kind {
	case KindCode:
		if d.Mode == "" {
			d.Mode = ModeAuto
		}
		if !codeModes[d.Mode] {
			return Directive{}, true, errors.Errorf("unknown code router mode %q", d.Mode)
		}
	case KindGeneral:
		if d.Mode == "" {
			d.Mode = ModeBalanced
		}
		if !generalModes[d.Mode] {
			return Directive{}, true, errors.Errorf("unknown general router mode %q", d.Mode)
		}
	default:
		return Directive{}, true, errors.Errorf("unknown router kind %q", d.Kind)
	}

	return d, true, nil
}

// String renders the canonical colon form; ParseDirective(d.String())
// round-trips.
func (d Directive) String() string {
	return "router:" + d.Kind + ":" + d.Mode
}
