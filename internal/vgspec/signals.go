package vgspec

// BuiltinSignals are signals every view defines. Their values are scalars
// known before any data flows.
var BuiltinSignals = map[string]bool{
	"width":      true,
	"height":     true,
	"padding":    true,
	"autosize":   true,
	"background": true,
}

// Signal is a top-level signal definition.
type Signal struct {
	Name     string
	Value    any
	HasValue bool

	// Bound is set when the signal is driven by an input widget ("bind").
	Bound bool

	// Reactive is set when the signal is derived from events or other
	// signals ("on", "update", "init"). Its value exists only in the client.
	Reactive bool
}

// Signals returns the top-level signal definitions in declaration order.
// Entries without a string name are skipped.
func (d *Document) Signals() []Signal {
	var out []Signal
	for _, item := range d.Members("signals") {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, ok := obj["name"].(string)
		if !ok || name == "" {
			continue
		}
		sig := Signal{Name: name}
		if v, ok := obj["value"]; ok {
			sig.Value = cloneValue(v)
			sig.HasValue = true
		}
		_, sig.Bound = obj["bind"]
		for _, key := range []string{"on", "update", "init"} {
			if _, ok := obj[key]; ok {
				sig.Reactive = true
			}
		}
		out = append(out, sig)
	}
	return out
}

// SignalDefaults returns the initial value of every static signal and of the
// builtin signals given as top-level members (width, height, padding).
// Values are normalized with Normalize.
func (d *Document) SignalDefaults() map[string]any {
	out := make(map[string]any)
	for name := range BuiltinSignals {
		if v, ok := d.Props[name]; ok {
			if _, isObj := v.(map[string]any); !isObj {
				out[name] = Normalize(v)
			}
		}
	}
	for _, sig := range d.Signals() {
		if sig.HasValue && !sig.Reactive {
			out[sig.Name] = Normalize(sig.Value)
		}
	}
	return out
}
