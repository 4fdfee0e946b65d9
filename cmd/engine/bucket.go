package engine

import (
	"github.com/airframesio/data-differ/cmd/backend"
	"github.com/airframesio/data-differ/cmd/reporter"
	"github.com/airframesio/data-differ/cmd/sqlgen"
)

// HashRange is a half-open interval of the non-negative key hash domain
type HashRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Bucket is one partition of the join-key hash space. Modulo buckets split into
// {2m, b} and {2m, b+m}; range buckets split into their lower and upper halves.
type Bucket struct {
	Modulus int64      `json:"modulus"`
	Index   int64      `json:"bucket"`
	Depth   int        `json:"depth"`
	CountA  int64      `json:"countA"`
	CountB  int64      `json:"countB"`
	Range   *HashRange `json:"range,omitempty"`
}

// rootBuckets returns the initial worklist in visiting order
func rootBuckets(ranged bool, initialModulus int64) []Bucket {
	if ranged {
		return []Bucket{{Modulus: 1, Range: &HashRange{Start: 0, End: backend.MaxHash}}}
	}
	roots := make([]Bucket, initialModulus)
	for i := range roots {
		roots[i] = Bucket{Modulus: initialModulus, Index: int64(i)}
	}
	return roots
}

// Split returns the two children of b
func (b Bucket) Split() (Bucket, Bucket) {
	if b.Range != nil {
		mid := b.Range.Start + (b.Range.End-b.Range.Start)/2
		left := Bucket{Modulus: 1, Depth: b.Depth + 1, Range: &HashRange{Start: b.Range.Start, End: mid}}
		right := Bucket{Modulus: 1, Depth: b.Depth + 1, Range: &HashRange{Start: mid, End: b.Range.End}}
		return left, right
	}
	m := b.Modulus * 2
	return Bucket{Modulus: m, Index: b.Index, Depth: b.Depth + 1},
		Bucket{Modulus: m, Index: b.Index + b.Modulus, Depth: b.Depth + 1}
}

// Splittable reports whether the bucket can be halved again
func (b Bucket) Splittable() bool {
	if b.Range != nil {
		return b.Range.End-b.Range.Start >= 2
	}
	return true
}

// Scope returns the partition filter for b, nil when b covers the whole key space
func (b Bucket) Scope() *sqlgen.Scope {
	if b.Range != nil {
		if b.Range.Start == 0 && b.Range.End >= backend.MaxHash {
			return nil
		}
		return sqlgen.RangeScope(b.Range.Start, b.Range.End)
	}
	if b.Modulus <= 1 {
		return nil
	}
	return sqlgen.BucketScope(b.Modulus, b.Index)
}

// Rows is the larger of the two side counts
func (b Bucket) Rows() int64 {
	return max(b.CountA, b.CountB)
}

func (b Bucket) Ref() *reporter.BucketRef {
	ref := &reporter.BucketRef{
		Modulus: b.Modulus,
		Index:   b.Index,
		Depth:   b.Depth,
		CountA:  b.CountA,
		CountB:  b.CountB,
	}
	if b.Range != nil {
		ref.Start, ref.End = b.Range.Start, b.Range.End
	}
	return ref
}

func (b Bucket) String() string {
	return b.Scope().String()
}

// before orders completed buckets for the final merge. Range buckets sort by start, which
// is global hash order; modulo buckets sort by index, which is not an order over keys.
func (b Bucket) before(o Bucket) bool {
	if b.Range != nil && o.Range != nil {
		return b.Range.Start < o.Range.Start
	}
	if b.Index != o.Index {
		return b.Index < o.Index
	}
	return b.Modulus < o.Modulus
}
