package metrics

import (
	"context"
	"time"
)

// Recorder keeps a log of published reports for offline inspection.
// Nothing in the daemon reads it back.
type Recorder interface {
	Record(ctx context.Context, report *Report) error
	Close() error
}

// Repository defines the interface for report storage
type Repository interface {
	Record(report *Report) error
	Close() error
}

// Report is one aggregation cycle as it was published.
type Report struct {
	Timestamp time.Time
	// Reason is "periodic" or "trigger".
	Reason    string
	Seq       uint64
	Count     int
	Mean      float64
	Latest    float64
	SupplyMV  float64
	Threshold float64
	Alert     bool
	Published bool
}
