package reader

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/codec"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/layout"

	"github.com/RoaringBitmap/roaring"
)

// VerifyReport lists every inconsistency found in a staging directory.
type VerifyReport struct {
	Archives int
	Samples  int
	Problems []string
}

// OK reports whether no problems were found.
func (v *VerifyReport) OK() bool {
	return len(v.Problems) == 0
}

func (v *VerifyReport) addf(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

// Verify checks that each archive's name matches its label count, that its
// sample folders are unique and within range, and, when expected >= 0, that
// the directory holds exactly expected samples.
func Verify(ctx context.Context, dir string, c codec.LabelCodec, expected int) (*VerifyReport, error) {
	archives, err := layout.ListArchives(dir)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{Archives: len(archives)}
	for _, a := range archives {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		contents, err := ReadArchive(c, a)
		if err != nil {
			return nil, err
		}

		count := len(contents.Labels)
		report.Samples += count
		if count != a.SampleCount {
			report.addf("archive %d: name says %d samples, label file has %d", a.Index, a.SampleCount, count)
		}
		if contents.Files == nil {
			continue
		}

		seen := roaring.New()
		for _, folder := range contents.Folders {
			idx, err := layout.TrailingIndex(folder)
			if err != nil {
				report.addf("archive %d: %v", a.Index, err)
				continue
			}
			if idx < 0 || idx >= count {
				report.addf("archive %d: sample folder %s out of range [0, %d)", a.Index, layout.SampleDirName(idx), count)
				continue
			}
			if !seen.CheckedAdd(uint32(idx)) {
				report.addf("archive %d: duplicate sample folder %s", a.Index, layout.SampleDirName(idx))
			}
		}
		if int(seen.GetCardinality()) != count {
			report.addf("archive %d: %d sample folders for %d labels", a.Index, seen.GetCardinality(), count)
		}
	}

	if expected >= 0 && report.Samples != expected {
		report.addf("expected %d samples, found %d", expected, report.Samples)
	}
	return report, nil
}
