package sqlgen

import (
	"errors"
	"fmt"

	"github.com/airframesio/data-differ/cmd/backend"
)

// Kind is the partition scheme of a Scope
type Kind string

const (
	KindHashBucket Kind = "hash-bucket"
	KindHashRange  Kind = "hash-range"
)

var ErrInvalidScope = errors.New("invalid partition scope")

// Scope restricts a generated query to one partition of the join-key hash space
type Scope struct {
	Kind Kind `json:"kind"`

	Modulus int64 `json:"modulus,omitempty"`
	Bucket  int64 `json:"bucket,omitempty"`

	// Start and End bound a half-open hash interval [Start, End)
	Start uint64 `json:"start,omitempty"`
	End   uint64 `json:"end,omitempty"`
}

// BucketScope selects rows whose key hash is congruent to bucket modulo modulus
func BucketScope(modulus, bucket int64) *Scope {
	return &Scope{Kind: KindHashBucket, Modulus: modulus, Bucket: bucket}
}

// RangeScope selects rows whose key hash lies in [start, end)
func RangeScope(start, end uint64) *Scope {
	return &Scope{Kind: KindHashRange, Start: start, End: end}
}

// Validate checks the scope bounds
func (s *Scope) Validate() error {
	if s == nil {
		return nil
	}
	switch s.Kind {
	case KindHashBucket:
		if s.Modulus < 1 {
			return fmt.Errorf("%w: modulus must be >= 1, got %d", ErrInvalidScope, s.Modulus)
		}
		if s.Bucket < 0 || s.Bucket >= s.Modulus {
			return fmt.Errorf("%w: bucket %d outside [0, %d)", ErrInvalidScope, s.Bucket, s.Modulus)
		}
	case KindHashRange:
		if s.Start >= s.End {
			return fmt.Errorf("%w: empty range [%d, %d)", ErrInvalidScope, s.Start, s.End)
		}
		if s.End > backend.MaxHash {
			return fmt.Errorf("%w: range end %d exceeds hash domain", ErrInvalidScope, s.End)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
	return nil
}

// Predicate renders the scope condition over a hash expression
func (s *Scope) Predicate(hashExpr string) string {
	switch s.Kind {
	case KindHashBucket:
		return fmt.Sprintf("((%s %% %d) + %d) %% %d = %d", hashExpr, s.Modulus, s.Modulus, s.Modulus, s.Bucket)
	case KindHashRange:
		if s.End >= backend.MaxHash {
			return fmt.Sprintf("%s >= %d", hashExpr, s.Start)
		}
		return fmt.Sprintf("%s >= %d AND %s < %d", hashExpr, s.Start, hashExpr, s.End)
	default:
		return "TRUE"
	}
}

// Contains reports whether a hash value falls inside the scope, mirroring Predicate
func (s *Scope) Contains(hash int64) bool {
	switch s.Kind {
	case KindHashBucket:
		return ((hash%s.Modulus)+s.Modulus)%s.Modulus == s.Bucket
	case KindHashRange:
		return hash >= 0 && uint64(hash) >= s.Start && uint64(hash) < s.End
	default:
		return true
	}
}

func (s *Scope) String() string {
	if s == nil {
		return "full"
	}
	if s.Kind == KindHashRange {
		return fmt.Sprintf("hash in [%d, %d)", s.Start, s.End)
	}
	return fmt.Sprintf("bucket %d/%d", s.Bucket, s.Modulus)
}
