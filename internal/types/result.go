package types

// Result is the structured envelope every pipeline operation returns.
// Status mirrors HTTP status classes so a thin transport surface can pass
// it through unchanged.
type Result struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	StatusOK          = 200
	StatusBadRequest  = 400
	StatusNotFound    = 404
	StatusConflict    = 409
	StatusError       = 500
	StatusUnavailable = 503
)

// OK builds a 200 result.
func OK(message string, data interface{}) Result {
	return Result{Status: StatusOK, Message: message, Data: data}
}

// Errf builds a non-200 result.
func Errf(status int, message string, data interface{}) Result {
	return Result{Status: status, Message: message, Data: data}
}

// PromoteCounters summarizes one promotion run for a single source.
type PromoteCounters struct {
	Inserted             int `json:"inserted"`
	Updated              int `json:"updated"`
	Skipped              int `json:"skipped"`
	Errors               int `json:"errors"`
	MovedToBackup        int `json:"moved_to_backup"`
	FilesMarkedProcessed int `json:"files_marked_processed"`
}

// Add accumulates another run's counters into c.
func (c *PromoteCounters) Add(o PromoteCounters) {
	c.Inserted += o.Inserted
	c.Updated += o.Updated
	c.Skipped += o.Skipped
	c.Errors += o.Errors
	c.MovedToBackup += o.MovedToBackup
	c.FilesMarkedProcessed += o.FilesMarkedProcessed
}

// EvaluateCounters summarizes one report evaluation run.
type EvaluateCounters struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	// Batches counts processed batches per contributing collection.
	Batches map[string]int `json:"batches,omitempty"`
}

// IngestCounters summarizes one file ingestion.
type IngestCounters struct {
	RowsInserted int    `json:"rows_inserted"`
	Batches      int    `json:"batches"`
	FileID       string `json:"file_id,omitempty"`
}
