package potential

import (
	"sort"
	"strings"

	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/streamspray/pkg/astronomy"
	"github.com/oxygene76/streamspray/pkg/astronomy/units"
)

// Spec describes a potential by type name and named parameters, as read
// from configuration. Composite specs list their Components instead.
type Spec struct {
	Type       string
	Params     map[string]units.Quantity
	Components []Spec
}

type builder struct {
	params []string
	build  func(sys units.System, q []units.Quantity) (Potential, error)
}

var builders = map[string]builder{
	"isochrone": {[]string{"m", "a"}, func(sys units.System, q []units.Quantity) (Potential, error) {
		return NewIsochrone(sys, q[0], q[1])
	}},
	"miyamoto_nagai": {[]string{"m", "a", "b"}, func(sys units.System, q []units.Quantity) (Potential, error) {
		return NewMiyamotoNagai(sys, q[0], q[1], q[2])
	}},
	"nfw": {[]string{"m", "r_s"}, func(sys units.System, q []units.Quantity) (Potential, error) {
		return NewNFW(sys, q[0], q[1])
	}},
	"flattened_nfw": {[]string{"v_c", "r_s", "q"}, func(sys units.System, q []units.Quantity) (Potential, error) {
		return NewFlattenedNFW(sys, q[0], q[1], q[2])
	}},
	"bar": {[]string{"m", "a", "b", "c", "omega"}, func(sys units.System, q []units.Quantity) (Potential, error) {
		return NewBar(sys, q[0], q[1], q[2], q[3], q[4])
	}},
}

// Types lists the names Build understands.
func Types() []string {
	out := []string{"composite"}
	for name := range builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build constructs the potential described by spec in sys. Missing or
// unexpected parameters are rejected.
func Build(sys units.System, spec Spec) (Potential, error) {
	kind := strings.ToLower(strings.TrimSpace(spec.Type))
	if kind == "composite" {
		children := make([]Potential, 0, len(spec.Components))
		for i, c := range spec.Components {
			child, err := Build(sys, c)
			if err != nil {
				return nil, errorsmod.Wrapf(err, "component %d", i)
			}
			children = append(children, child)
		}
		return NewComposite(children...)
	}

	b, ok := builders[kind]
	if !ok {
		return nil, errorsmod.Wrapf(astronomy.ErrInvalidParameter,
			"unknown potential type %q (known: %s)", spec.Type, strings.Join(Types(), ", "))
	}
	if len(spec.Params) != len(b.params) {
		var extra []string
		for name := range spec.Params {
			if !contains(b.params, name) {
				extra = append(extra, name)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return nil, errorsmod.Wrapf(astronomy.ErrInvalidParameter,
				"%s: unexpected parameters %s", kind, strings.Join(extra, ", "))
		}
	}
	qs := make([]units.Quantity, len(b.params))
	for i, name := range b.params {
		q, ok := spec.Params[name]
		if !ok {
			return nil, errorsmod.Wrapf(astronomy.ErrInvalidParameter, "%s: missing parameter %s", kind, name)
		}
		qs[i] = q
	}
	p, err := b.build(sys, qs)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
