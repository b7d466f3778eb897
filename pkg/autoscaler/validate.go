package autoscaler

import (
	"fmt"
	"math"
	"time"

	"github.com/Jackwwg83/coderunner2-sub003/pkg/types"
)

// ValidatePolicy checks a scaling policy. Hard violations return an
// error; soft ones come back as warnings and the policy is accepted.
func ValidatePolicy(p *types.ScalingPolicy) ([]string, error) {
	if p.DeploymentID == "" {
		return nil, types.Validationf("policy must name a deployment")
	}
	if p.MinInstances < 1 {
		return nil, types.Validationf("min_instances must be >= 1, got %d", p.MinInstances)
	}
	if p.MaxInstances < p.MinInstances {
		return nil, types.Validationf("max_instances %d must be >= min_instances %d", p.MaxInstances, p.MinInstances)
	}
	if p.ScaleUpThreshold < 0 || p.ScaleUpThreshold > 1 {
		return nil, types.Validationf("scale_up_threshold must be in [0,1], got %g", p.ScaleUpThreshold)
	}
	if p.ScaleDownThreshold < 0 || p.ScaleDownThreshold > 1 {
		return nil, types.Validationf("scale_down_threshold must be in [0,1], got %g", p.ScaleDownThreshold)
	}
	if p.ScaleUpThreshold <= p.ScaleDownThreshold {
		return nil, types.Validationf("scale_up_threshold %g must exceed scale_down_threshold %g", p.ScaleUpThreshold, p.ScaleDownThreshold)
	}
	if len(p.Thresholds) == 0 {
		return nil, types.Validationf("policy needs at least one metric threshold")
	}
	for _, th := range p.Thresholds {
		switch th.Metric {
		case types.MetricCPU, types.MetricMemory, types.MetricRequests, types.MetricResponseTime, types.MetricErrorRate:
		default:
			return nil, types.Validationf("unknown metric %q", th.Metric)
		}
		switch th.Comparison {
		case types.CompareGT, types.CompareGTE, types.CompareLT, types.CompareLTE:
		default:
			return nil, types.Validationf("unknown comparison %q for metric %s", th.Comparison, th.Metric)
		}
		if th.Threshold < 0 || th.Threshold > 1 {
			return nil, types.Validationf("threshold for %s must be in [0,1], got %g", th.Metric, th.Threshold)
		}
		if th.Weight < 0 || th.Weight > 1 {
			return nil, types.Validationf("weight for %s must be in [0,1], got %g", th.Metric, th.Weight)
		}
	}

	var warnings []string
	if p.Cooldown < time.Minute {
		warnings = append(warnings, fmt.Sprintf("cooldown %s is under 60s; scaling may flap", p.Cooldown))
	}
	if p.Cooldown > time.Hour {
		warnings = append(warnings, fmt.Sprintf("cooldown %s is over 1h; scaling will react slowly", p.Cooldown))
	}
	if p.MaxInstances > 100 {
		warnings = append(warnings, fmt.Sprintf("max_instances %d is unusually high", p.MaxInstances))
	}

	var weightSum float64
	seen := make(map[types.MetricName]bool)
	dup := false
	for _, th := range p.Thresholds {
		weightSum += th.Weight
		if seen[th.Metric] {
			dup = true
		}
		seen[th.Metric] = true
	}
	if math.Abs(weightSum-1) > 0.01 {
		warnings = append(warnings, fmt.Sprintf("threshold weights sum to %.3f, expected 1.0", weightSum))
	}
	if dup {
		warnings = append(warnings, "duplicate metrics in thresholds")
	}
	if p.ScaleUpThreshold-p.ScaleDownThreshold < 0.2 {
		warnings = append(warnings, fmt.Sprintf("gap between scale thresholds is %.3f; under 0.2 scaling may oscillate", p.ScaleUpThreshold-p.ScaleDownThreshold))
	}
	return warnings, nil
}
