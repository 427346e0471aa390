package hydrograph

// Default formatting and parsing constants.
const (
	defaultHeaderLines        = 1
	defaultDischargePrecision = 2
	defaultVelocityPrecision  = 1
)

type options struct {
	headerLines        int
	dischargePrecision int
	velocityPrecision  int
}

func defaultOptions() options {
	return options{
		headerLines:        defaultHeaderLines,
		dischargePrecision: defaultDischargePrecision,
		velocityPrecision:  defaultVelocityPrecision,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures parsing and writing.
type Option func(*options)

// WithHeaderLines sets how many leading lines are kept verbatim as header.
func WithHeaderLines(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.headerLines = n
		}
	}
}

// WithDischargePrecision sets the minimum decimals written for discharge
// columns. A negative value writes the shortest exact representation.
func WithDischargePrecision(p int) Option {
	return func(o *options) {
		o.dischargePrecision = p
	}
}

// WithVelocityPrecision sets the minimum decimals written for velocity
// columns. A negative value writes the shortest exact representation.
func WithVelocityPrecision(p int) Option {
	return func(o *options) {
		o.velocityPrecision = p
	}
}
