package qcmetrics

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/stat"

	"github.com/ChrisMcGann/QCKit/pkg/core"
)

// Edge links two features, Node1 < Node2.
type Edge struct {
	Node1, Node2 int
}

// LinkageParams are the artefactual linkage thresholds.
type LinkageParams struct {
	DeltaMz float64
	// Overlap is the minimum retention-time overlap in percent of the
	// narrower peak.
	Overlap float64
	Corr    float64
}

// DefaultLinkageCacheSize is the number of candidate lists a Linker keeps.
const DefaultLinkageCacheSize = 16

type linkKey struct {
	dataset    uuid.UUID
	generation uint64
	deltaMz    float64
	overlap    float64
}

// Linker finds artefactual features. Candidate lists depend only on the
// feature metadata and are cached per dataset, feature generation and
// m/z and overlap thresholds, so changing the correlation threshold
// only reruns the correlation cut.
type Linker struct {
	candidates *lru.Cache[linkKey, []Edge]
}

// NewLinker creates a linker caching up to size candidate lists.
func NewLinker(size int) (*Linker, error) {
	c, err := lru.New[linkKey, []Edge](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create linkage cache: %w", err)
	}
	return &Linker{candidates: c}, nil
}

// Reset drops every cached candidate list.
func (l *Linker) Reset() {
	l.candidates.Purge()
}

// Candidates returns the feature pairs within deltaMz of each other whose
// peaks [RT - width/2, RT + width/2] overlap by at least overlap percent of
// the narrower peak. Edges are sorted.
func (l *Linker) Candidates(d *core.Dataset, deltaMz, overlap float64) ([]Edge, error) {
	key := linkKey{dataset: d.ID, generation: d.FeatureGeneration(), deltaMz: deltaMz, overlap: overlap}
	if edges, ok := l.candidates.Get(key); ok {
		return slices.Clone(edges), nil
	}
	edges, err := candidates(d, deltaMz, overlap)
	if err != nil {
		return nil, err
	}
	l.candidates.Add(key, edges)
	return slices.Clone(edges), nil
}

func candidates(d *core.Dataset, deltaMz, overlap float64) ([]Edge, error) {
	mz, err := d.FeatureMetadata.Float(core.ColMZ)
	if err != nil {
		return nil, err
	}
	rt, err := d.FeatureMetadata.Float(core.ColRetentionTime)
	if err != nil {
		return nil, err
	}
	width, err := d.FeatureMetadata.Float(core.ColPeakWidth)
	if err != nil {
		return nil, err
	}

	order := make([]int, 0, len(mz))
	for j := range mz {
		if finite(mz[j]) && finite(rt[j]) && finite(width[j]) {
			order = append(order, j)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(mz[a], mz[b]) })

	var edges []Edge
	for a, i := range order {
		for _, j := range order[a+1:] {
			if mz[j]-mz[i] > deltaMz {
				break
			}
			if peakOverlap(rt[i], width[i], rt[j], width[j]) >= overlap {
				edges = append(edges, Edge{min(i, j), max(i, j)})
			}
		}
	}
	slices.SortFunc(edges, func(a, b Edge) int {
		if c := cmp.Compare(a.Node1, b.Node1); c != 0 {
			return c
		}
		return cmp.Compare(a.Node2, b.Node2)
	})
	return edges, nil
}

// peakOverlap returns the intersection of two peaks as a percentage of the
// narrower one.
func peakOverlap(rt1, w1, rt2, w2 float64) float64 {
	lo := math.Max(rt1-w1/2, rt2-w2/2)
	hi := math.Min(rt1+w1/2, rt2+w2/2)
	inter := hi - lo
	if inter < 0 {
		return 0
	}
	narrow := math.Min(w1, w2)
	if narrow <= 0 {
		return 100
	}
	return 100 * math.Min(inter/narrow, 1)
}

// Edges keeps the candidates whose Pearson correlation over unmasked
// samples is at least corr.
func Edges(d *core.Dataset, cand []Edge, corr float64) []Edge {
	var rows []int
	for i, ok := range d.SampleMask {
		if ok {
			rows = append(rows, i)
		}
	}
	cols := make(map[int][]float64)
	column := func(j int) []float64 {
		if c, ok := cols[j]; ok {
			return c
		}
		c := make([]float64, len(rows))
		for k, i := range rows {
			c[k] = d.Intensity.At(i, j)
		}
		cols[j] = c
		return c
	}
	var out []Edge
	for _, e := range cand {
		if r := Correlate(column(e.Node1), column(e.Node2), Pearson); r >= corr {
			out = append(out, e)
		}
	}
	return out
}

// Representatives collapses each connected component of edges to the
// member with the highest mean intensity over unmasked samples. The
// returned vector is false for the other members and true elsewhere.
func Representatives(d *core.Dataset, edges []Edge) []bool {
	_, m := d.Intensity.Dims()
	parent := make([]int, m)
	for j := range parent {
		parent[j] = j
	}
	var find func(int) int
	find = func(j int) int {
		if parent[j] != j {
			parent[j] = find(parent[j])
		}
		return parent[j]
	}
	for _, e := range edges {
		a, b := find(e.Node1), find(e.Node2)
		if a != b {
			parent[max(a, b)] = min(a, b)
		}
	}

	var rows []int
	for i, ok := range d.SampleMask {
		if ok {
			rows = append(rows, i)
		}
	}
	best := make(map[int]int)
	bestMean := make(map[int]float64)
	linked := make([]bool, m)
	for _, e := range edges {
		linked[e.Node1], linked[e.Node2] = true, true
	}
	var buf []float64
	for j := 0; j < m; j++ {
		if !linked[j] {
			continue
		}
		root := find(j)
		buf = finiteColumn(buf[:0], d.Intensity, rows, j)
		mean := math.Inf(-1)
		if len(buf) > 0 {
			mean = stat.Mean(buf, nil)
		}
		if cur, ok := best[root]; !ok || mean > bestMean[root] || (mean == bestMean[root] && j < cur) {
			best[root] = j
			bestMean[root] = mean
		}
	}

	keep := make([]bool, m)
	for j := range keep {
		keep[j] = !linked[j] || best[find(j)] == j
	}
	return keep
}

// ArtifactualFilter runs the full linkage and returns the feature pass
// vector along with the retained edges.
func (l *Linker) ArtifactualFilter(d *core.Dataset, p LinkageParams) ([]bool, []Edge, error) {
	if p.Corr < -1 || p.Corr > 1 {
		return nil, nil, fmt.Errorf("%w: artefactual correlation threshold %v outside [-1, 1]", core.ErrThresholdOutOfRange, p.Corr)
	}
	if p.Overlap < 0 || p.Overlap > 100 {
		return nil, nil, fmt.Errorf("%w: overlap threshold %v outside [0, 100]", core.ErrThresholdOutOfRange, p.Overlap)
	}
	if p.DeltaMz < 0 {
		return nil, nil, fmt.Errorf("%w: negative m/z tolerance %v", core.ErrThresholdOutOfRange, p.DeltaMz)
	}
	cand, err := l.Candidates(d, p.DeltaMz, p.Overlap)
	if err != nil {
		return nil, nil, err
	}
	edges := Edges(d, cand, p.Corr)
	return Representatives(d, edges), edges, nil
}
