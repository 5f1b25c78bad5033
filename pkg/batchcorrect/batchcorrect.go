// Package batchcorrect applies run-order drift and batch correction to a
// whole MS dataset, one feature at a time.
package batchcorrect

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/QCKit/pkg/config"
	"github.com/ChrisMcGann/QCKit/pkg/core"
	"github.com/ChrisMcGann/QCKit/pkg/lowess"
)

// Options configure a correction run.
type Options struct {
	// CorrectionSampleType is the sample type whose precision references
	// anchor the fit.
	CorrectionSampleType core.SampleType
	Params               lowess.Params
	// Parallel fans features out to Workers goroutines (GOMAXPROCS when
	// zero). Serial and parallel runs give identical results.
	Parallel bool
	Workers  int
	// Chunk is the number of features per task; zero picks one.
	Chunk int
}

// DefaultOptions returns parallel study-pool anchored LOWESS.
func DefaultOptions() Options {
	return Options{
		CorrectionSampleType: core.StudyPool,
		Params:               lowess.DefaultParams(),
		Parallel:             true,
	}
}

// OptionsFromSOP reads the correction parameters of an SOP.
func OptionsFromSOP(sop config.SOP) (Options, error) {
	opts := DefaultOptions()
	var err error
	if sop.CorrectionSampleType != "" {
		if opts.CorrectionSampleType, err = core.ParseSampleType(sop.CorrectionSampleType); err != nil {
			return opts, err
		}
	}
	if sop.Window != 0 {
		opts.Params.Window = sop.Window
	}
	if opts.Params.Method, err = lowess.ParseMethod(sop.Method); err != nil {
		return opts, err
	}
	if opts.Params.Align, err = lowess.ParseAlign(sop.Align); err != nil {
		return opts, err
	}
	return opts, nil
}

// Report summarises a correction run per feature.
type Report struct {
	// Failed flags features whose intensities were passed through raw.
	Failed []bool
	// Messages holds the per-feature notes, indexed like Failed.
	Messages [][]string
	// Batches lists the correction batch ids in the order they were fitted.
	Batches []float64
}

// NumFailed returns the number of failed features.
func (r *Report) NumFailed() int {
	n := 0
	for _, f := range r.Failed {
		if f {
			n++
		}
	}
	return n
}

// Correct returns a corrected copy of d carrying the fitted baseline in
// Fit. Anchors are unmasked samples of the configured type with the
// PrecisionReference role. Linearity references and samples without a
// Correction Batch are left untouched.
func Correct(ctx context.Context, d *core.Dataset, opts Options) (*core.Dataset, *Report, error) {
	if err := core.RequireDataset(d); err != nil {
		return nil, nil, err
	}
	if err := opts.Params.Check(); err != nil {
		return nil, nil, err
	}
	plan, err := newPlan(d, opts.CorrectionSampleType)
	if err != nil {
		return nil, nil, err
	}

	log := d.Log("batchcorrect")
	n, m := d.Intensity.Dims()
	corrected := core.NewMatrix(n, m, nil)
	fit := core.NewMatrix(n, m, nil)
	report := &Report{
		Failed:   make([]bool, m),
		Messages: make([][]string, m),
		Batches:  plan.ids,
	}

	work := func(j int) {
		res := lowess.CorrectFeature(plan.runOrder, d.Intensity.Col(j), plan.batches, plan.anchor, opts.Params)
		corrected.SetCol(j, res.Corrected)
		fit.SetCol(j, res.Fit)
		report.Failed[j] = res.Err != nil
		report.Messages[j] = res.Messages
	}

	if opts.Parallel {
		err = runParallel(ctx, m, opts, work)
	} else {
		err = runSerial(ctx, m, work)
	}
	if err != nil {
		return nil, nil, err
	}

	out := d.Copy()
	out.Intensity = corrected
	out.Fit = fit
	out.AppendLog("Batch correction with %s (window %d, align %s) anchored on %s precision references over %d batches; %d of %d features failed",
		opts.Params.Method, opts.Params.Window, opts.Params.Align, opts.CorrectionSampleType, len(plan.batches), report.NumFailed(), m)

	var warn core.Warnings
	for _, b := range plan.thin {
		warn.Add("correction batch %v has fewer than 2 anchors and was not corrected", b)
	}
	if k := report.NumFailed(); k > 0 {
		warn.Add("%d features could not be corrected and were passed through", k)
	}
	warn.Flush(log)
	log.Info("batch correction finished", "features", m, "batches", len(plan.batches), "failed", report.NumFailed())
	return out, report, nil
}

func runSerial(ctx context.Context, m int, work func(int)) error {
	for j := 0; j < m; j++ {
		if j%64 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		work(j)
	}
	return nil
}

// runParallel hands out contiguous feature chunks. Every task writes only
// its own columns, so no locking is needed.
func runParallel(ctx context.Context, m int, opts Options, work func(int)) error {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := opts.Chunk
	if chunk <= 0 {
		chunk = max(1, m/(4*workers))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < m; start += chunk {
		end := min(start+chunk, m)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for j := start; j < end; j++ {
				work(j)
			}
			return nil
		})
	}
	return g.Wait()
}

// plan is the sample-side layout shared by every feature.
type plan struct {
	runOrder []float64
	anchor   []bool
	batches  [][]int
	ids      []float64
	// thin lists batches with fewer than two anchors.
	thin []float64
}

func newPlan(d *core.Dataset, st core.SampleType) (*plan, error) {
	ro, err := d.SampleMetadata.Float(core.ColRunOrder)
	if err != nil {
		return nil, err
	}
	cb, err := d.SampleMetadata.Float(core.ColCorrectionBatch)
	if err != nil {
		return nil, err
	}
	types, err := d.SampleTypes()
	if err != nil {
		return nil, err
	}
	roles, err := d.AssayRoles()
	if err != nil {
		return nil, err
	}

	p := &plan{runOrder: ro, anchor: make([]bool, len(ro))}
	members := make(map[float64][]int)
	total := 0
	for i := range ro {
		if math.IsNaN(cb[i]) || roles[i] == core.LinearityReference {
			continue
		}
		if _, ok := members[cb[i]]; !ok {
			p.ids = append(p.ids, cb[i])
		}
		members[cb[i]] = append(members[cb[i]], i)
		if types[i] == st && roles[i] == core.PrecisionReference && d.SampleMask[i] {
			p.anchor[i] = true
			total++
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: no %s precision reference samples to anchor the correction", core.ErrInsufficientReferences, st)
	}
	slices.Sort(p.ids)
	for _, id := range p.ids {
		idx := members[id]
		p.batches = append(p.batches, idx)
		anchors := 0
		for _, i := range idx {
			if p.anchor[i] {
				anchors++
			}
		}
		if anchors < 2 {
			p.thin = append(p.thin, id)
		}
	}
	return p, nil
}
