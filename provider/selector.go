package provider

import (
	"context"
	"sort"

	apperrors "github.com/mkaratas/relaykit/errors"
	"github.com/mkaratas/relaykit/logger"
)

// SelectionCriteria narrows provider selection.
type SelectionCriteria struct {
	// RequiredCapabilities must all be present on a candidate; providers
	// missing any of them are excluded before scoring.
	RequiredCapabilities []string
	// IncludeUnhealthy admits unhealthy candidates instead of filtering
	// them out. They still rank below healthy ones.
	IncludeUnhealthy bool
}

// Score weights. A perfect provider scores 100.
const (
	scoreHealthy     = 30.0
	scoreSuccessMax  = 25.0
	scoreLatencyMax  = 20.0
	scoreCapacityMax = 15.0
	// scoreCost is a placeholder until providers report pricing.
	scoreCost = 10.0
)

type scoredProvider struct {
	code  string
	score float64
}

// SelectBestProvider returns the highest-scoring provider of a type.
// Candidates missing a required capability are excluded, as are unhealthy
// ones unless the criteria admit them. Scoring: healthy 30, success rate up
// to 25, latency up to 20 (minus one point per 100ms of average latency),
// capability match up to 15, cost 10. Ties resolve to the lexicographically
// smaller code.
func (m *Manager) SelectBestProvider(ctx context.Context, ptype string, criteria SelectionCriteria) (string, error) {
	ranked, err := m.rank(ctx, ptype, criteria)
	if err != nil {
		return "", err
	}
	return ranked[0].code, nil
}

// ProvidersWithFailover returns the providers of a type that pass the
// criteria's filters, in failover order: best first.
func (m *Manager) ProvidersWithFailover(ctx context.Context, ptype string, criteria SelectionCriteria) ([]string, error) {
	ranked, err := m.rank(ctx, ptype, criteria)
	if err != nil {
		return nil, err
	}
	codes := make([]string, len(ranked))
	for i, sp := range ranked {
		codes[i] = sp.code
	}
	return codes, nil
}

func (m *Manager) rank(ctx context.Context, ptype string, criteria SelectionCriteria) ([]scoredProvider, error) {
	registrations := m.registry.ByType(ptype)
	if len(registrations) == 0 {
		return nil, apperrors.NotFound(ptype)
	}

	var ranked []scoredProvider
	for _, reg := range registrations {
		capabilities := m.registry.Capabilities(reg.Code)
		if !hasAllCapabilities(capabilities, criteria.RequiredCapabilities) {
			m.log.Debug("selection skipped provider, missing required capability",
				logger.Fields("code", reg.Code))
			continue
		}
		instance, err := m.Get(ctx, reg.Code)
		if err != nil {
			m.log.Debug("selection skipped provider", logger.Fields("code", reg.Code, "error", err.Error()))
			continue
		}
		health := instance.HealthStatus()
		if !health.Healthy && !criteria.IncludeUnhealthy {
			m.log.Debug("selection skipped unhealthy provider",
				logger.Fields("code", reg.Code, "detail", health.Detail))
			continue
		}
		score := scoreProvider(health, instance.Metrics(), capabilities, criteria.RequiredCapabilities)
		ranked = append(ranked, scoredProvider{code: reg.Code, score: score})
	}
	if len(ranked) == 0 {
		return nil, apperrors.Unavailable(ptype)
	}

	// Registrations arrive code-sorted; a stable sort keeps that ordering
	// as the tie-break.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked, nil
}

func scoreProvider(health HealthStatus, metrics Metrics, capabilities, required []string) float64 {
	var score float64

	if health.Healthy {
		score += scoreHealthy
	}

	score += metrics.SuccessRate() * scoreSuccessMax

	latencyScore := scoreLatencyMax - float64(metrics.AvgDuration().Milliseconds())/100.0
	if latencyScore > 0 {
		score += latencyScore
	}

	score += capabilityRatio(capabilities, required) * scoreCapacityMax
	score += scoreCost
	return score
}

func hasAllCapabilities(capabilities, required []string) bool {
	return capabilityRatio(capabilities, required) == 1.0
}

func capabilityRatio(capabilities, required []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	have := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		have[c] = true
	}
	matched := 0
	for _, r := range required {
		if have[r] {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}
