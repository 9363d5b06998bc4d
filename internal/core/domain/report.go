package domain

type StatKind string

const (
	StatKindLabel       StatKind = "label"
	StatKindTotal       StatKind = "total"
	StatKindTotalTokens StatKind = "total_tokens"
)

// AggregateStat is one row of a statistics table. Dimension is empty for
// the single-dimension subject table.
type AggregateStat struct {
	Dimension  string   `json:"dimension,omitempty"`
	Label      string   `json:"label"`
	Count      int      `json:"count"`
	Percentage float64  `json:"percentage"`
	Kind       StatKind `json:"kind"`
}

type AggregateTable struct {
	Dimensioned bool            `json:"dimensioned"`
	Rows        []AggregateStat `json:"rows"`
}

type DimensionSummary struct {
	Dimension   string `json:"dimension"`
	TotalLabels int    `json:"total_labels"`
	TopLabel    string `json:"top_label"`
	Details     string `json:"details"`
}

// RunSummary counts what each stage absorbed instead of failing.
type RunSummary struct {
	RunID             string `json:"run_id"`
	JobID             string `json:"job_id"`
	Profile           string `json:"profile"`
	Extracted         int    `json:"extracted"`
	EncodeSkipped     int    `json:"encode_skipped"`
	Submitted         int    `json:"submitted"`
	ResultLines       int    `json:"result_lines"`
	ParseErrors       int    `json:"parse_errors"`
	FailedItems       int    `json:"failed_items"`
	MissingResults    int    `json:"missing_results"`
	UnknownCorrelated int    `json:"unknown_correlated"`
	TotalTokens       int    `json:"total_tokens"`
}

type Report struct {
	Profile    string
	Detail     []ClassifiedRecord
	Subjects   AggregateTable
	Dimensions *AggregateTable
	PerUnit    []DimensionSummary
	// DimensionFallback labels records without an auxiliary value.
	DimensionFallback string
	Summary           RunSummary
}
