package hydrograph

import "errors"

// Sentinel kinds for hydrograph errors.
var (
	ErrMalformedRow      = errors.New("malformed hydrograph row")
	ErrInvalidMultiplier = errors.New("invalid volume multiplier")
	ErrEmpty             = errors.New("hydrograph has no samples")
)
