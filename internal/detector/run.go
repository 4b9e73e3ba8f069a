package detector

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/geomon/pkg/types"
)

// Run executes one detection and always returns a persistable result,
// plus any affected-feature rows to store alongside it. A detector error
// or panic produces a failed result rather than losing the attempt:
// HasChanges false, confidence zero, the error recorded.
func Run(d Detector, current, previous *types.Snapshot, cfg Config) (*types.ChangeDetectionResult, []types.AffectedFeature) {
	res := &types.ChangeDetectionResult{
		ID:                uuid.New().String(),
		CurrentSnapshotID: current.ID,
		LayerID:           current.LayerID,
		Algorithm:         d.Name(),
		ProcessingStatus:  types.ProcessingProcessing,
		CreatedAt:         time.Now().UTC(),
	}
	if previous != nil {
		res.PreviousSnapshotID = previous.ID
	}

	start := time.Now()
	outcome, err := detect(d, current, previous, cfg)
	res.DetectionDuration = time.Since(start)

	if err != nil {
		res.ProcessingStatus = types.ProcessingFailed
		res.ErrorMessage = err.Error()
		return res, nil
	}

	res.ProcessingStatus = types.ProcessingCompleted
	res.HasChanges = outcome.HasChanges
	res.ChangeTypes = outcome.ChangeTypes
	res.FeatureCountChange = outcome.FeatureCountChange
	res.FeatureCountPct = outcome.FeatureCountPct
	res.AreaChange = outcome.AreaChange
	res.AreaChangePct = outcome.AreaChangePct
	res.CentroidShift = outcome.CentroidShift
	res.NewFeatures = outcome.NewFeatures
	res.DeletedFeatures = outcome.DeletedFeatures
	res.ModifiedFeatures = outcome.ModifiedFeatures
	res.ExceedsThreshold = outcome.ExceedsThreshold
	res.ThresholdValues = outcome.ThresholdValues
	res.ConfidenceScore = outcome.ConfidenceScore
	res.Details = outcome.Details

	var affected []types.AffectedFeature
	for _, id := range outcome.AffectedFeatureIDs {
		affected = append(affected, types.AffectedFeature{ResultID: res.ID, FeatureID: id})
	}
	return res, affected
}

func detect(d Detector, current, previous *types.Snapshot, cfg Config) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = fmt.Errorf("detector %s panicked: %v", d.Name(), r)
		}
	}()
	if previous == nil {
		return nil, fmt.Errorf("no previous snapshot for layer %s", current.LayerID)
	}
	return d.Detect(current, previous, cfg)
}
