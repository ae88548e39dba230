package pushdown

import (
	"github.com/roach88/vegaplus/internal/queryir"
	"github.com/roach88/vegaplus/internal/vgspec"
)

// Partition is a pipeline divided into a remote prefix and a client residual.
// Prefix ++ Residual always equals the input pipeline.
type Partition struct {
	Prefix   []vgspec.Transform
	Residual []vgspec.Transform

	// Ops are the translations of Prefix, index for index.
	Ops []queryir.Operation

	// Reason explains why the first residual step was not pushed.
	Reason string
}

// Split walks transforms in order and keeps the longest pushable prefix.
// The first step that is not pushable and every step after it form the
// residual; steps are never reordered. The scan must be fresh for this
// pipeline.
func Split(scan *PipelineScan, transforms []vgspec.Transform) Partition {
	var p Partition
	for i, t := range transforms {
		v := scan.Classify(t)
		if !v.Pushable {
			p.Reason = v.Reason
			p.Residual = cloneTransforms(transforms[i:])
			return p
		}
		p.Prefix = append(p.Prefix, t.Clone())
		p.Ops = append(p.Ops, v.Op)
	}
	return p
}

// Pushed reports whether the partition has anything to push.
func (p Partition) Pushed() bool {
	return len(p.Prefix) > 0
}

func cloneTransforms(ts []vgspec.Transform) []vgspec.Transform {
	if len(ts) == 0 {
		return nil
	}
	out := make([]vgspec.Transform, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}
