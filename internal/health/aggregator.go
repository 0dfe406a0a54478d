package health

import "platewatch/internal/model"

// criticalComponents can take the node down on their own; everything
// else degrades quality but not the mission.
var criticalComponents = map[string]bool{
	ComponentCamera:      true,
	ComponentModels:      true,
	ComponentPersistence: true,
	ComponentStorage:     true,
}

// Aggregate folds individual check results into one overall status.
// Only failing checks count; warnings inform operators but do not move
// the needle. Two failing critical components mean the node cannot do
// its job; one means it is limping; more than two non-critical failures
// together also warrant attention.
func Aggregate(results []model.HealthCheckResult) model.OverallStatus {
	if len(results) == 0 {
		return model.OverallError
	}

	var critical, noncritical int
	for _, r := range results {
		if r.Status != model.StatusFail {
			continue
		}
		if criticalComponents[r.Component] {
			critical++
		} else {
			noncritical++
		}
	}

	switch {
	case critical >= 2:
		return model.OverallCritical
	case critical == 1:
		return model.OverallWarning
	case noncritical > 2:
		return model.OverallWarning
	default:
		return model.OverallHealthy
	}
}
