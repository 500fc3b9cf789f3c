package telemetry

import (
	"net/http"
	"time"
)

// Collector receives pipeline events and exposes them as metrics.
type Collector interface {
	SampleRecorded(celsius float64)
	SampleFailed(code string)
	TriggerCompleted()
	TriggerFailed(code string)
	ReportPublished(mean float64, count int, alert bool)
	PublishFailed()
	HandlerRan(kind string, took time.Duration)
	Handler() http.Handler
}
