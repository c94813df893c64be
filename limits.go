package htip

// Limits bounds the resources a single encode or decode may consume,
// per §5. Exceeding any configured cap is ErrResourceLimitExceeded and must
// be detected before allocating proportional to the offending field.
type Limits struct {
	MaxTemplates   int
	MaxStrings     int
	MaxInstances   int
	MaxStreamSize  int
	MaxSlotDepth   int
	MaxBatchSize   int
}

// DefaultLimits returns the §5 default resource bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxTemplates:  4096,
		MaxStrings:    65535,
		MaxInstances:  65535,
		MaxStreamSize: 16 << 20,
		MaxSlotDepth:  32,
		MaxBatchSize:  16384,
	}
}
