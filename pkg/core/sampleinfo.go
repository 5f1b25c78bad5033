package core

import (
	"fmt"
	"time"
)

// AddSampleInfo joins the columns of info onto the sample metadata, matching
// rows on the key column (Sample File Name or Sample Base Name). Matched
// cells overwrite existing values; new columns are empty for unmatched
// samples. Unmatched rows on either side are warned about once.
func (d *Dataset) AddSampleInfo(info *Table, key string) error {
	if key != ColSampleFileName && key != ColSampleBaseName {
		return fmt.Errorf("sample info must be keyed on %q or %q, not %q", ColSampleFileName, ColSampleBaseName, key)
	}
	ours, err := d.SampleMetadata.String(key)
	if err != nil {
		return err
	}
	theirs, err := info.String(key)
	if err != nil {
		return fmt.Errorf("sample info: %w", err)
	}

	lookup := make(map[string]int, len(theirs))
	for r, k := range theirs {
		if _, dup := lookup[k]; dup {
			return fmt.Errorf("%w: sample info has %s %q more than once", ErrDuplicateValue, key, k)
		}
		lookup[k] = r
	}
	match := make([]int, len(ours))
	used := make([]bool, len(theirs))
	var warn Warnings
	unmatched := 0
	for i, k := range ours {
		r, ok := lookup[k]
		if !ok {
			match[i] = -1
			unmatched++
			continue
		}
		match[i] = r
		used[r] = true
	}
	if unmatched > 0 {
		warn.Add("%d samples have no entry in the sample info", unmatched)
	}
	extra := 0
	for _, u := range used {
		if !u {
			extra++
		}
	}
	if extra > 0 {
		warn.Add("%d sample info rows match no sample", extra)
	}

	for _, name := range info.Columns() {
		if name == key {
			continue
		}
		if err := joinColumn(d.SampleMetadata, info, name, match); err != nil {
			return err
		}
	}
	warn.Flush(d.Log("sampleinfo"))
	d.AppendLog("Added sample info columns %v keyed on %s", info.Columns(), key)
	return nil
}

func joinColumn(dst, src *Table, name string, match []int) error {
	srcKind, _ := src.Kind(name)
	dstKind, exists := dst.Kind(name)
	kind := srcKind
	if exists && dstKind != srcKind {
		kind = KindString
	}

	switch kind {
	case KindFloat:
		in, _ := src.Float(name)
		out := make([]float64, len(match))
		if exists {
			out, _ = dst.Float(name)
		} else {
			for i := range out {
				out[i] = nan
			}
		}
		for i, r := range match {
			if r >= 0 {
				out[i] = in[r]
			}
		}
		return dst.SetFloat(name, out)
	case KindTime:
		in, _ := src.Time(name)
		out := make([]time.Time, len(match))
		if exists {
			out, _ = dst.Time(name)
		}
		for i, r := range match {
			if r >= 0 {
				out[i] = in[r]
			}
		}
		return dst.SetTime(name, out)
	default:
		in, _ := src.String(name)
		out := make([]string, len(match))
		if exists {
			out, _ = dst.String(name)
		}
		for i, r := range match {
			if r >= 0 {
				out[i] = in[r]
			}
		}
		return dst.SetString(name, out)
	}
}
