package data

import (
	"math"

	"github.com/YuminosukeSato/kittycat/pkg/errors"
)

// SplitByTime partitions t on the numeric column timeCol into
// train = {time < validBoundary}, valid = {validBoundary <= time < testBoundary}
// and test = {time >= testBoundary}. Rows keep their original order. Rows
// whose time is NaN belong to no partition.
func SplitByTime(t *Table, timeCol string, validBoundary, testBoundary float64) (train, valid, test *Table, err error) {
	if !(validBoundary < testBoundary) {
		return nil, nil, nil, errors.NewValidationError("valid_boundary",
			"must be smaller than test_boundary", validBoundary)
	}
	if err := t.RequireColumns(timeCol); err != nil {
		return nil, nil, nil, err
	}

	var trainIdx, validIdx, testIdx []int
	for i := 0; i < t.Len(); i++ {
		v, err := t.Float(i, timeCol)
		if err != nil {
			return nil, nil, nil, err
		}
		switch {
		case math.IsNaN(v):
		case v < validBoundary:
			trainIdx = append(trainIdx, i)
		case v < testBoundary:
			validIdx = append(validIdx, i)
		default:
			testIdx = append(testIdx, i)
		}
	}
	return t.Subset(trainIdx), t.Subset(validIdx), t.Subset(testIdx), nil
}
