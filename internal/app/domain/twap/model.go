// Package twap holds the domain models for the windowed TWAP oracle.
package twap

import (
	"errors"
	"time"

	"github.com/holiman/uint256"
)

var (
	// ErrIdenticalTokens indicates a pair built from one token.
	ErrIdenticalTokens = errors.New("identical token identifiers")

	// ErrZeroToken indicates an empty or sentinel token identifier.
	ErrZeroToken = errors.New("zero token identifier")
)

// Observation is one cumulative-price snapshot for a pair. Accumulators are
// UQ112x112-scaled running sums supplied by the external source; they only
// ever increase. A zero Timestamp marks a slot that was never written.
type Observation struct {
	Timestamp        uint64 // unix seconds
	Price0Cumulative uint256.Int
	Price1Cumulative uint256.Int
}

// Pair is a registered trading pair tracked by the oracle. Token0 sorts
// before Token1 in the canonical ordering, mirroring the direction of the
// two cumulative-price series.
type Pair struct {
	ID        string
	Token0    string
	Token1    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SortTokens returns the canonical ordering of two token identifiers, lower
// value first. The ordering decides which cumulative series corresponds to
// which conversion direction, so every lookup must agree on it.
func SortTokens(tokenA, tokenB string) (string, string, error) {
	if tokenA == tokenB {
		return "", "", ErrIdenticalTokens
	}
	token0, token1 := tokenA, tokenB
	if token1 < token0 {
		token0, token1 = token1, token0
	}
	if token0 == "" {
		return "", "", ErrZeroToken
	}
	return token0, token1, nil
}
