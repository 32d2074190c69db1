// Package postcode resolves UK postcodes to a point and the codes of the
// administrative areas that contain it.
package postcode

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/casemap/internal/metrics"
)

var (
	// ErrMalformed is returned for input that is not postcode shaped.
	ErrMalformed = eris.New("postcode: malformed")
	// ErrNotFound is returned when the resolver knows no such postcode.
	ErrNotFound = eris.New("postcode: not found")
)

var shape = regexp.MustCompile(`^[A-Z]{1,2}\d{1,2}[A-Z]?\d{1,2}[A-Z]{1,2}$`)

// Result is a resolved postcode.
type Result struct {
	Postcode string `json:"postcode"`
	// Codes maps area type (utla, ltla, msoa, ...) to the containing area code.
	Codes       map[string]string `json:"codes"`
	Coordinates orb.Point         `json:"coordinates"`
}

// Code returns the containing area code for areaType.
func (r *Result) Code(areaType string) string {
	if r == nil {
		return ""
	}
	return r.Codes[areaType]
}

// Normalize removes all whitespace and upper-cases.
func Normalize(input string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, input)
}

// Validate reports whether a normalized postcode has the UK shape.
func Validate(normalized string) error {
	if !shape.MatchString(normalized) {
		return eris.Wrapf(ErrMalformed, "postcode: %q", normalized)
	}
	return nil
}

// Resolver looks up a normalized postcode.
type Resolver interface {
	Resolve(ctx context.Context, normalized string) (*Result, error)
}

// Cache stores resolved postcodes.
type Cache interface {
	Get(ctx context.Context, normalized string) (*Result, bool)
	Set(ctx context.Context, normalized string, r *Result)
}

// Locator normalizes, validates and resolves postcodes, consulting the
// cache first when one is set.
type Locator struct {
	resolver Resolver
	cache    Cache
}

// NewLocator creates a locator. cache may be nil.
func NewLocator(resolver Resolver, cache Cache) *Locator {
	return &Locator{resolver: resolver, cache: cache}
}

// Locate resolves raw user input.
func (l *Locator) Locate(ctx context.Context, input string) (*Result, error) {
	normalized := Normalize(input)
	if err := Validate(normalized); err != nil {
		return nil, err
	}

	if l.cache != nil {
		if r, ok := l.cache.Get(ctx, normalized); ok {
			zap.L().Debug("postcode cache hit", zap.String("postcode", normalized))
			metrics.PostcodeCacheTotal.WithLabelValues("hit").Inc()
			return r, nil
		}
		metrics.PostcodeCacheTotal.WithLabelValues("miss").Inc()
	}

	r, err := l.resolver.Resolve(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		l.cache.Set(ctx, normalized, r)
	}
	return r, nil
}
