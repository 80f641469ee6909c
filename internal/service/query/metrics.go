package query

import (
	"github.com/tracemesh/tracemesh/internal/model"
)

// computeTraceMetrics aggregates one page of traces and their spans.
// spansPerTrace is indexed like traces; a nil inner slice contributes
// nothing. Rates are percentages over the page and 0 for an empty page.
func computeTraceMetrics(traces []model.Trace, spansPerTrace [][]model.Span) model.TraceMetrics {
	m := model.TraceMetrics{TotalTraces: len(traces)}

	agents := make(map[string]struct{})
	services := make(map[string]struct{})
	containers := make(map[string]struct{})

	var successes, errors int
	var durationSum int64
	for _, t := range traces {
		switch t.Status {
		case model.TraceStatusSuccess:
			successes++
		case model.TraceStatusError:
			errors++
		}
		durationSum += t.DurationMs
		m.TotalCost += t.TotalCost
		m.TotalTokens += t.TotalTokens
		if t.ServiceName != "" {
			services[t.ServiceName] = struct{}{}
		}
	}

	for _, spans := range spansPerTrace {
		m.TotalSpans += len(spans)
		for _, s := range spans {
			if s.AgentID != "" {
				agents[s.AgentID] = struct{}{}
			}
			if s.ServiceName != "" {
				services[s.ServiceName] = struct{}{}
			}
			if s.ContainerID != "" {
				containers[s.ContainerID] = struct{}{}
			}
		}
	}

	m.UniqueAgents = len(agents)
	m.UniqueServices = len(services)
	m.UniqueContainers = len(containers)

	if len(traces) > 0 {
		n := float64(len(traces))
		m.SuccessRate = float64(successes) / n * 100
		m.ErrorRate = float64(errors) / n * 100
		m.AvgDurationMs = float64(durationSum) / n
		m.AvgSpansPerTrace = float64(m.TotalSpans) / n
		m.AvgCostPerTrace = m.TotalCost / n
	}
	return m
}

// computeA2AMetrics aggregates one page of A2A communications.
func computeA2AMetrics(comms []model.A2ACommunication) model.A2AMetrics {
	m := model.A2AMetrics{TotalCommunications: len(comms)}

	types := make(map[string]struct{})
	protocols := make(map[string]struct{})
	pairs := make(map[string]struct{})

	var successes, errors int
	var durationSum int64
	for _, c := range comms {
		types[c.CommunicationType] = struct{}{}
		if c.Protocol != "" {
			protocols[c.Protocol] = struct{}{}
		}
		pairs[c.SourceAgentID+"->"+c.TargetAgentID] = struct{}{}
		switch c.Status {
		case model.A2AStatusSuccess:
			successes++
		case model.A2AStatusError:
			errors++
		}
		durationSum += c.DurationMs
	}

	m.UniqueCommunicationTypes = len(types)
	m.UniqueProtocols = len(protocols)
	m.UniqueAgentPairs = len(pairs)

	if len(comms) > 0 {
		n := float64(len(comms))
		m.SuccessRate = float64(successes) / n * 100
		m.ErrorRate = float64(errors) / n * 100
		m.AvgDurationMs = float64(durationSum) / n
	}
	return m
}
