// Package astronomy holds the error kinds shared by the potential, integrator
// and stream packages.
package astronomy

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace under which the simulation errors are registered.
const Codespace = "streamspray"

var (
	// ErrDegenerateTidalRadius is returned when Omega^2 - d2phi/dr2 is not
	// positive (or not finite), so the tidal radius is undefined.
	ErrDegenerateTidalRadius = errorsmod.Register(Codespace, 2, "degenerate tidal radius")

	// ErrIntegrationDivergence is returned when adaptive stepping cannot meet
	// its tolerances within the step budget.
	ErrIntegrationDivergence = errorsmod.Register(Codespace, 3, "integration diverged")

	// ErrIndexOutOfBounds is returned by the phase-space index helpers.
	ErrIndexOutOfBounds = errorsmod.Register(Codespace, 4, "index out of bounds")

	// ErrUnitMismatch is returned when a parameter's unit does not fit the
	// active unit system.
	ErrUnitMismatch = errorsmod.Register(Codespace, 5, "unit mismatch")

	ErrInvalidParameter = errorsmod.Register(Codespace, 6, "invalid parameter")
)
