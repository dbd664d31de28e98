package trino

import (
	"encoding/json"
	"fmt"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// queryStatus is the wire shape of one statement-protocol response. The
// query id is assigned on the first response and immutable thereafter;
// an absent nextUri signals a terminal state.
type queryStatus struct {
	ID               string            `json:"id"`
	InfoURI          string            `json:"infoUri"`
	PartialCancelURI string            `json:"partialCancelUri,omitempty"`
	NextURI          string            `json:"nextUri,omitempty"`
	Columns          []Column          `json:"columns,omitempty"`
	Data             []json.RawMessage `json:"data,omitempty"`
	Stats            StatementStats    `json:"stats"`
	Error            *QueryError       `json:"error,omitempty"`
	Warnings         []Warning         `json:"warnings,omitempty"`
	UpdateType       string            `json:"updateType,omitempty"`
	UpdateCount      *int64            `json:"updateCount,omitempty"`
}

// StatementStats carries the execution statistics a coordinator reports
// with every response. Counters such as ProcessedRows are monotonically
// non-decreasing over a query's lifetime.
type StatementStats struct {
	State             string   `json:"state"`
	Queued            bool     `json:"queued"`
	Scheduled         bool     `json:"scheduled"`
	Nodes             int      `json:"nodes"`
	TotalSplits       int      `json:"totalSplits"`
	QueuedSplits      int      `json:"queuedSplits"`
	RunningSplits     int      `json:"runningSplits"`
	CompletedSplits   int      `json:"completedSplits"`
	CPUTimeMillis     int64    `json:"cpuTimeMillis"`
	WallTimeMillis    int64    `json:"wallTimeMillis"`
	QueuedTimeMillis  int64    `json:"queuedTimeMillis"`
	ElapsedTimeMillis int64    `json:"elapsedTimeMillis"`
	ProcessedRows     int64    `json:"processedRows"`
	ProcessedBytes    int64    `json:"processedBytes"`
	PeakMemoryBytes   int64    `json:"peakMemoryBytes"`
	SpilledBytes      int64    `json:"spilledBytes"`
	WallTime          WallTime `json:"wallTime,omitempty"`
	ProgressPercent   float64  `json:"progressPercentage,omitempty"`
}

// WallTime wraps time.Duration with wire-format awareness: coordinators
// report durations either as float milliseconds or as human-readable
// strings like "3.5m" or "1.2d".
type WallTime struct {
	time.Duration
}

func (w WallTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Duration.String())
}

func (w *WallTime) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		// Milliseconds
		w.Duration = time.Duration(value * float64(time.Millisecond))
		return nil
	case string:
		d, err := str2duration.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid wall time %q: %w", value, err)
		}
		w.Duration = d
		return nil
	default:
		return fmt.Errorf("invalid wall time %v", v)
	}
}

// Warning is a non-fatal notice attached to a query response.
type Warning struct {
	WarningCode WarningCode `json:"warningCode"`
	Message     string      `json:"message"`
}

// WarningCode identifies the warning class.
type WarningCode struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}
