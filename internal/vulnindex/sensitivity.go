package vulnindex

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cholette-research/tract-cli/internal/model"
)

// defaultRankThreshold flags a tract as rank-sensitive when its rank moves
// more than this many positions across scenarios.
const defaultRankThreshold = 20

// Scenario names one alternative weighting of the index components.
type Scenario struct {
	Name       string      `yaml:"name" mapstructure:"name" json:"name"`
	Components []Component `yaml:"components" mapstructure:"components" json:"components"`
}

// DefaultScenarios stresses each side of the baseline weighting: economic
// need, food assistance, and geographic isolation in turn, plus an equal
// split. The first scenario is always the comparison baseline.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "baseline", Components: DefaultComponents()},
		{Name: "poverty_heavy", Components: []Component{
			{Name: "poverty_rate", Weight: 0.50, Direction: DirectionHigher},
			{Name: "snap_rate", Weight: 0.20, Direction: DirectionHigher},
			{Name: "pct_no_vehicle", Weight: 0.15, Direction: DirectionHigher},
			{Name: "renter_rate", Weight: 0.05, Direction: DirectionHigher},
			{Name: "pop_density", Weight: 0.10, Direction: DirectionLower},
		}},
		{Name: "snap_heavy", Components: []Component{
			{Name: "poverty_rate", Weight: 0.20, Direction: DirectionHigher},
			{Name: "snap_rate", Weight: 0.50, Direction: DirectionHigher},
			{Name: "pct_no_vehicle", Weight: 0.15, Direction: DirectionHigher},
			{Name: "renter_rate", Weight: 0.05, Direction: DirectionHigher},
			{Name: "pop_density", Weight: 0.10, Direction: DirectionLower},
		}},
		{Name: "isolation_heavy", Components: []Component{
			{Name: "poverty_rate", Weight: 0.20, Direction: DirectionHigher},
			{Name: "snap_rate", Weight: 0.15, Direction: DirectionHigher},
			{Name: "pct_no_vehicle", Weight: 0.15, Direction: DirectionHigher},
			{Name: "renter_rate", Weight: 0.05, Direction: DirectionHigher},
			{Name: "pop_density", Weight: 0.45, Direction: DirectionLower},
		}},
		{Name: "equal", Components: []Component{
			{Name: "poverty_rate", Weight: 0.20, Direction: DirectionHigher},
			{Name: "snap_rate", Weight: 0.20, Direction: DirectionHigher},
			{Name: "pct_no_vehicle", Weight: 0.20, Direction: DirectionHigher},
			{Name: "renter_rate", Weight: 0.20, Direction: DirectionHigher},
			{Name: "pop_density", Weight: 0.20, Direction: DirectionLower},
		}},
	}
}

// ScenarioResult summarizes one scenario's index over the common population.
type ScenarioResult struct {
	Name      string  `json:"name" csv:"name"`
	MeanScore float64 `json:"mean_score" csv:"mean_score"`
	StdDev    float64 `json:"std_dev" csv:"std_dev"`
	// BaselineRankCorrelation is the Spearman correlation of this
	// scenario's ranking against the baseline's; 1 for the baseline
	// itself.
	BaselineRankCorrelation float64 `json:"baseline_rank_correlation" csv:"baseline_rank_correlation"`
}

// TractSensitivity records how far one tract's rank moves across scenarios.
// Rank 1 is the most vulnerable tract.
type TractSensitivity struct {
	GEOID      string  `json:"geoid" csv:"geoid"`
	RankRange  int     `json:"rank_range" csv:"rank_range"`
	RankStdDev float64 `json:"rank_std_dev" csv:"rank_std_dev"`
}

// Robustness classifications for the scenario comparison, keyed off the
// weakest baseline rank correlation.
const (
	RobustnessRobust    = "robust"
	RobustnessModerate  = "moderately robust"
	RobustnessSensitive = "sensitive"
)

// Sensitivity is the full weight-scenario comparison.
type Sensitivity struct {
	Scenarios  []ScenarioResult   `json:"scenarios"`
	Sensitive  []TractSensitivity `json:"sensitive_tracts"`
	Tracts     int                `json:"tracts"`    // size of the common population
	Threshold  int                `json:"threshold"` // rank range above which a tract is flagged
	Robustness string             `json:"robustness"`
}

// Analyze rebuilds the index under every scenario and compares the rankings.
// The first scenario is the baseline. Only tracts scored under every
// scenario enter the comparison, so ranks always cover the same population.
// Tracts whose rank moves more than threshold positions come back in
// Sensitive, worst movers first.
func Analyze(tracts []model.Tract, scenarios []Scenario, threshold int) (*Sensitivity, error) {
	if len(scenarios) == 0 {
		scenarios = DefaultScenarios()
	}
	if len(scenarios) < 2 {
		return nil, eris.New("vulnindex: sensitivity needs at least two scenarios")
	}
	if threshold <= 0 {
		threshold = defaultRankThreshold
	}

	seen := make(map[string]bool, len(scenarios))
	for _, sc := range scenarios {
		if sc.Name == "" {
			return nil, eris.New("vulnindex: scenario with empty name")
		}
		if seen[sc.Name] {
			return nil, eris.Errorf("vulnindex: duplicate scenario %q", sc.Name)
		}
		seen[sc.Name] = true
	}

	// Score every scenario. Build validates each weighting up front, so a
	// bad scenario aborts before any comparison output exists.
	scores := make([]map[string]float64, len(scenarios))
	for i, sc := range scenarios {
		rows, _, err := Build(tracts, sc.Components)
		if err != nil {
			return nil, eris.Wrapf(err, "vulnindex: scenario %q", sc.Name)
		}
		scores[i] = make(map[string]float64, len(rows))
		for _, r := range rows {
			scores[i][r.GEOID] = r.Score
		}
	}

	// Common population: tracts scored under every scenario.
	var geoids []string
	for geoid := range scores[0] {
		inAll := true
		for i := 1; i < len(scores); i++ {
			if _, ok := scores[i][geoid]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			geoids = append(geoids, geoid)
		}
	}
	sort.Strings(geoids)

	// Rank per scenario: descending score, ties broken by GEOID so the
	// comparison is identical run-to-run.
	ranks := make([]map[string]int, len(scenarios))
	for i := range scenarios {
		ranks[i] = rankDescending(geoids, scores[i])
	}

	out := &Sensitivity{Tracts: len(geoids), Threshold: threshold}

	baseRanks := rankVector(geoids, ranks[0])
	minCorr := 1.0
	for i, sc := range scenarios {
		mean, std := scoreStats(geoids, scores[i])
		corr := 1.0
		if i > 0 {
			corr = pearson(baseRanks, rankVector(geoids, ranks[i]))
			minCorr = math.Min(minCorr, corr)
		}
		out.Scenarios = append(out.Scenarios, ScenarioResult{
			Name:                    sc.Name,
			MeanScore:               mean,
			StdDev:                  std,
			BaselineRankCorrelation: corr,
		})
	}

	for _, geoid := range geoids {
		lo, hi := math.MaxInt32, 0
		var vals []float64
		for i := range scenarios {
			r := ranks[i][geoid]
			if r < lo {
				lo = r
			}
			if r > hi {
				hi = r
			}
			vals = append(vals, float64(r))
		}
		if hi-lo > threshold {
			out.Sensitive = append(out.Sensitive, TractSensitivity{
				GEOID:      geoid,
				RankRange:  hi - lo,
				RankStdDev: stdDev(vals),
			})
		}
	}
	sort.Slice(out.Sensitive, func(i, j int) bool {
		if out.Sensitive[i].RankRange != out.Sensitive[j].RankRange {
			return out.Sensitive[i].RankRange > out.Sensitive[j].RankRange
		}
		return out.Sensitive[i].GEOID < out.Sensitive[j].GEOID
	})

	switch {
	case minCorr > 0.9:
		out.Robustness = RobustnessRobust
	case minCorr > 0.7:
		out.Robustness = RobustnessModerate
	default:
		out.Robustness = RobustnessSensitive
	}

	zap.L().Info("vulnindex: sensitivity analyzed",
		zap.Int("scenarios", len(scenarios)),
		zap.Int("tracts", len(geoids)),
		zap.Int("sensitive", len(out.Sensitive)),
		zap.String("robustness", out.Robustness),
	)

	return out, nil
}

func rankDescending(geoids []string, score map[string]float64) map[string]int {
	order := append([]string(nil), geoids...)
	sort.Slice(order, func(a, b int) bool {
		if score[order[a]] != score[order[b]] {
			return score[order[a]] > score[order[b]]
		}
		return order[a] < order[b]
	})
	ranks := make(map[string]int, len(order))
	for i, geoid := range order {
		ranks[geoid] = i + 1
	}
	return ranks
}

func rankVector(geoids []string, ranks map[string]int) []float64 {
	out := make([]float64, len(geoids))
	for i, geoid := range geoids {
		out[i] = float64(ranks[geoid])
	}
	return out
}

func scoreStats(geoids []string, score map[string]float64) (mean, std float64) {
	if len(geoids) == 0 {
		return 0, 0
	}
	var vals []float64
	for _, geoid := range geoids {
		vals = append(vals, score[geoid])
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean = sum / float64(len(vals))
	return mean, stdDev(vals)
}

func stdDev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var mean, sum float64
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	for _, v := range vals {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vals)))
}

// pearson over rank vectors is the Spearman rank correlation.
func pearson(x, y []float64) float64 {
	n := float64(len(x))
	if n == 0 || len(x) != len(y) {
		return 0
	}
	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	mx, my := sx/n, sy/n

	var cov, vx, vy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}
