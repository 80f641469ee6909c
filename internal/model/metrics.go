package model

// TraceMetrics summarizes exactly the page of trace results just returned,
// not the full filtered set. Rates are percentages and are 0 when the page
// is empty, never NaN.
type TraceMetrics struct {
	TotalTraces      int     `json:"totalTraces"`
	TotalSpans       int     `json:"totalSpans"`
	UniqueAgents     int     `json:"uniqueAgents"`
	UniqueServices   int     `json:"uniqueServices"`
	UniqueContainers int     `json:"uniqueContainers"`
	SuccessRate      float64 `json:"successRate"`
	ErrorRate        float64 `json:"errorRate"`
	AvgDurationMs    float64 `json:"avgDurationMs"`
	AvgSpansPerTrace float64 `json:"avgSpansPerTrace"`
	TotalCost        float64 `json:"totalCost"`
	TotalTokens      int64   `json:"totalTokens"`
	AvgCostPerTrace  float64 `json:"avgCostPerTrace"`
}

// A2AMetrics summarizes a page of A2A communication results.
type A2AMetrics struct {
	TotalCommunications      int     `json:"totalCommunications"`
	UniqueCommunicationTypes int     `json:"uniqueCommunicationTypes"`
	UniqueProtocols          int     `json:"uniqueProtocols"`
	UniqueAgentPairs         int     `json:"uniqueAgentPairs"`
	AvgDurationMs            float64 `json:"avgDurationMs"`
	SuccessRate              float64 `json:"successRate"`
	ErrorRate                float64 `json:"errorRate"`
}
