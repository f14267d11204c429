// Package ident allocates human-readable record identifiers.
//
// Users and coupons get sequential ids of the form <PREFIX><3+ digit number>
// (USER012, COUP004). The number is drawn from an atomic per-kind sequence
// rather than from a count of existing rows, so two concurrent creations can
// never observe the same value. Categories use a short random token instead.
package ident

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Identifier prefixes.
const (
	PrefixUser     = "USER"
	PrefixCoupon   = "COUP"
	PrefixCategory = "CAT-"
)

// Sequence hands out strictly increasing numbers per kind. Implementations
// must be atomic across processes (e.g. a single UPDATE ... RETURNING).
type Sequence interface {
	Next(ctx context.Context, kind string) (int64, error)
}

// Format renders seq zero-padded to three digits. Numbers past 999 simply
// widen.
func Format(prefix string, seq int64) string {
	return fmt.Sprintf("%s%03d", prefix, seq)
}

// Allocator turns sequence numbers into prefixed identifiers.
type Allocator struct {
	seq Sequence
}

// NewAllocator returns an Allocator backed by seq.
func NewAllocator(seq Sequence) *Allocator {
	return &Allocator{seq: seq}
}

// Next allocates the next identifier for prefix.
func (a *Allocator) Next(ctx context.Context, prefix string) (string, error) {
	n, err := a.seq.Next(ctx, prefix)
	if err != nil {
		return "", errors.Wrapf(err, "next %s sequence", prefix)
	}
	return Format(prefix, n), nil
}

// Token returns prefix followed by 8 random hex characters. Uniqueness is
// probabilistic; callers rely on a unique index to catch collisions.
func Token(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + raw[:8]
}
