package dedupe

// Option configures an in-memory claim set.
type Option func(*inMemoryClaims)

// WithMaxSize caps the number of keys held at once. A value of 0 or less
// means unbounded.
func WithMaxSize(maxSize int) Option {
	return func(c *inMemoryClaims) {
		c.maxSize = maxSize
	}
}
