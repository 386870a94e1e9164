package potential

import (
	errorsmod "cosmossdk.io/errors"
	"gonum.org/v1/gonum/num/hyperdual"

	"github.com/oxygene76/streamspray/pkg/astronomy"
)

// Composite is the sum of its children, evaluated in order.
type Composite struct {
	base
	children []Potential
}

// NewComposite combines children that all share one unit system.
func NewComposite(children ...Potential) (*Composite, error) {
	if len(children) == 0 {
		return nil, errorsmod.Wrap(astronomy.ErrInvalidParameter, "composite needs at least one potential")
	}
	sys := children[0].Units()
	for i, c := range children[1:] {
		if c.Units() != sys {
			return nil, errorsmod.Wrapf(astronomy.ErrUnitMismatch,
				"child %d uses %s, composite uses %s", i+1, c.Units(), sys)
		}
	}
	return &Composite{
		base:     newBase(sys),
		children: append([]Potential(nil), children...),
	}, nil
}

// Children returns the component potentials.
func (p *Composite) Children() []Potential {
	return append([]Potential(nil), p.children...)
}

// Eval implements Potential.
func (p *Composite) Eval(xyz [3]hyperdual.Number, t float64) hyperdual.Number {
	var sum hyperdual.Number
	for _, c := range p.children {
		sum = hyperdual.Add(sum, c.Eval(xyz, t))
	}
	return sum
}

var (
	_ Potential = (*Isochrone)(nil)
	_ Potential = (*CenteredIsochrone)(nil)
	_ Potential = (*MiyamotoNagai)(nil)
	_ Potential = (*FlattenedNFW)(nil)
	_ Potential = (*NFW)(nil)
	_ Potential = (*Bar)(nil)
	_ Potential = (*SubhaloPopulation)(nil)
	_ Potential = (*Composite)(nil)
	_ CenterTrack = (*SplineTrack)(nil)
)
