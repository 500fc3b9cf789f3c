package sensor

import (
	"context"
	"time"
)

// Driver converts one sample on the underlying ADC. Convert blocks until the
// conversion completes or ctx is done.
type Driver interface {
	Name() string
	Ready() bool
	Setup(ctx context.Context) error
	Convert(ctx context.Context) (Sample, error)
}

// Acquirer is the acquisition surface the pipeline handlers depend on.
type Acquirer interface {
	Read(ctx context.Context) (Reading, error)
	BeginRead(ctx context.Context) error
	Collect(ctx context.Context) (Reading, error)
	CollectWithTimeout(ctx context.Context, d time.Duration) (Reading, error)
}

// Sample is a raw conversion result in ADC counts.
type Sample struct {
	Raw    int32
	Aux    int32
	HasAux bool
}

// Reading is a calibrated, immutable sensor reading.
type Reading struct {
	Seq     uint64
	Celsius float64
	// AuxMV is the auxiliary channel in millivolts, typically supply voltage.
	AuxMV  float64
	HasAux bool
	Raw    int32
	Time   time.Time
}
