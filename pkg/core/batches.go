package core

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// InferBatches assigns Batch and Correction Batch from the acquisition
// times: a gap longer than gap starts a new batch. Batches are numbered
// from 1 in acquisition order. Samples without a time get NaN.
func (d *Dataset) InferBatches(gap time.Duration) error {
	if !d.SampleMetadata.Has(ColAcquiredTime) {
		return fmt.Errorf("%w: cannot infer batches without %q", ErrMissingOptionalMetadata, ColAcquiredTime)
	}
	ts, err := d.SampleMetadata.Time(ColAcquiredTime)
	if err != nil {
		return err
	}
	order := timeOrder(ts)
	batch := make([]float64, len(ts))
	for i := range batch {
		batch[i] = nan
	}
	current := 0.0
	var last time.Time
	for _, i := range order {
		if ts[i].IsZero() {
			continue
		}
		if current == 0 || ts[i].Sub(last) > gap {
			current++
		}
		batch[i] = current
		last = ts[i]
	}
	if err := d.SampleMetadata.SetFloat(ColBatch, batch); err != nil {
		return err
	}
	if err := d.SampleMetadata.SetFloat(ColCorrectionBatch, batch); err != nil {
		return err
	}
	d.AppendLog("Inferred %v batches using a gap of %s", current, gap)
	return nil
}

// AmendBatches splits the batch containing runOrder so that the sample at
// runOrder starts a new batch. Later batches are renumbered.
func (d *Dataset) AmendBatches(runOrder float64) error {
	for _, c := range []string{ColRunOrder, ColBatch} {
		if !d.SampleMetadata.Has(c) {
			return fmt.Errorf("%w: cannot amend batches without %q", ErrMissingOptionalMetadata, c)
		}
	}
	ro, err := d.SampleMetadata.Float(ColRunOrder)
	if err != nil {
		return err
	}
	at := slices.Index(ro, runOrder)
	if at < 0 {
		return fmt.Errorf("no sample has %s %v", ColRunOrder, runOrder)
	}

	for _, c := range []string{ColBatch, ColCorrectionBatch} {
		if !d.SampleMetadata.Has(c) {
			continue
		}
		b, err := d.SampleMetadata.Float(c)
		if err != nil {
			return err
		}
		split := b[at]
		if math.IsNaN(split) {
			continue
		}
		for i := range b {
			switch {
			case math.IsNaN(b[i]):
			case b[i] > split:
				b[i]++
			case b[i] == split && ro[i] >= runOrder:
				b[i]++
			}
		}
		if err := d.SampleMetadata.SetFloat(c, b); err != nil {
			return err
		}
	}
	d.AppendLog("Started a new batch at %s %v", ColRunOrder, runOrder)
	return nil
}

// RecomputeRunOrder sets Run Order to the rank of each sample's acquisition
// time, ties broken by row.
func (d *Dataset) RecomputeRunOrder() error {
	if !d.SampleMetadata.Has(ColAcquiredTime) {
		return fmt.Errorf("%w: cannot compute %q without %q", ErrMissingOptionalMetadata, ColRunOrder, ColAcquiredTime)
	}
	ts, err := d.SampleMetadata.Time(ColAcquiredTime)
	if err != nil {
		return err
	}
	return d.SampleMetadata.SetFloat(ColRunOrder, RunOrderFromTimes(ts))
}

// RunOrderFromTimes ranks ts from 0, ties broken by index.
func RunOrderFromTimes(ts []time.Time) []float64 {
	ro := make([]float64, len(ts))
	for rank, i := range timeOrder(ts) {
		ro[i] = float64(rank)
	}
	return ro
}

func timeOrder(ts []time.Time) []int {
	order := make([]int, len(ts))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return ts[a].Compare(ts[b])
	})
	return order
}
