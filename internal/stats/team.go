package stats

import (
	"context"

	"github.com/nidhogg/skillmatch/internal/model"
)

// Utilisation histogram buckets, in percent.
var buckets = []struct {
	label string
	upper float64
}{
	{"0-25", 25},
	{"25-50", 50},
	{"50-75", 75},
	{"75-100", 100},
}

const overflowBucket = "100+"

func bucketOf(utilization float64) string {
	pct := utilization * 100
	for _, b := range buckets {
		if pct < b.upper {
			return b.label
		}
	}
	return overflowBucket
}

// Team aggregates per-agent statistics across an organisation.
func (g *Aggregator) Team(ctx context.Context, orgID string) (*model.TeamStatistics, error) {
	profiles, err := g.store.ListProfiles(ctx, orgID)
	if err != nil {
		return nil, err
	}

	ts := &model.TeamStatistics{
		OrgID:                   orgID,
		TeamSize:                len(profiles),
		UtilizationDistribution: map[string]int{overflowBucket: 0},
		Overloaded:              []string{},
		Underloaded:             []string{},
		Members:                 make([]model.TeamMember, 0, len(profiles)),
	}
	for _, b := range buckets {
		ts.UtilizationDistribution[b.label] = 0
	}

	var util, perf mean
	for _, p := range profiles {
		st, err := g.Get(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		u := p.Utilization()
		util.add(u)
		perf.add(p.PerformanceScore)
		ts.UtilizationDistribution[bucketOf(u)]++
		switch {
		case u >= g.cfg.OverloadedThreshold:
			ts.Overloaded = append(ts.Overloaded, p.ID)
		case u < g.cfg.UnderloadedThreshold:
			ts.Underloaded = append(ts.Underloaded, p.ID)
		}
		ts.Members = append(ts.Members, model.TeamMember{
			AgentID:          p.ID,
			Name:             p.Name,
			Utilization:      u,
			PerformanceScore: p.PerformanceScore,
			Statistics:       st,
		})
	}
	ts.AvgUtilization = util.value()
	ts.AvgPerformanceScore = perf.value()
	return ts, nil
}
