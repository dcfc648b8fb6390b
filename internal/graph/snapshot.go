package graph

import (
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// DefaultTokenLimit caps token listings when the caller passes no limit
const DefaultTokenLimit = 100

// Snapshot is an immutable view of the pair set and token registry.
// It is never modified after construction.
type Snapshot struct {
	pairs     []types.Pair
	tokens    map[common.Address]types.Token
	byKey     map[[2]common.Address][]int
	adjacency map[common.Address][]int
	loadedAt  time.Time
}

func newSnapshot(pairs []types.Pair, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		pairs:     pairs,
		tokens:    make(map[common.Address]types.Token, len(pairs)*2),
		byKey:     make(map[[2]common.Address][]int, len(pairs)),
		adjacency: make(map[common.Address][]int, len(pairs)*2),
		loadedAt:  loadedAt,
	}

	for i, p := range pairs {
		s.tokens[p.Token0.Address] = p.Token0
		s.tokens[p.Token1.Address] = p.Token1

		key := types.PairKey(p.Token0.Address, p.Token1.Address)
		s.byKey[key] = append(s.byKey[key], i)

		if !p.Routable() {
			continue
		}
		s.adjacency[p.Token0.Address] = append(s.adjacency[p.Token0.Address], i)
		s.adjacency[p.Token1.Address] = append(s.adjacency[p.Token1.Address], i)
	}

	// deterministic traversal order for the path finder
	for token, idx := range s.adjacency {
		sort.Slice(idx, func(a, b int) bool {
			return s.pairs[idx[a]].ID < s.pairs[idx[b]].ID
		})
		s.adjacency[token] = idx
	}

	return s
}

// LoadedAt returns when the snapshot was built
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}

// Pairs returns every pair in the snapshot, routable or not
func (s *Snapshot) Pairs() []types.Pair {
	return s.pairs
}

// Len returns the number of pairs
func (s *Snapshot) Len() int {
	return len(s.pairs)
}

// Routable returns the number of pairs usable for routing
func (s *Snapshot) Routable() int {
	n := 0
	for _, p := range s.pairs {
		if p.Routable() {
			n++
		}
	}
	return n
}

// Token looks a token up by its hex address, case-insensitively
func (s *Snapshot) Token(address string) (types.Token, bool) {
	if !common.IsHexAddress(address) {
		return types.Token{}, false
	}
	return s.TokenAt(common.HexToAddress(address))
}

// TokenAt looks a token up by address
func (s *Snapshot) TokenAt(address common.Address) (types.Token, bool) {
	t, ok := s.tokens[address]
	return t, ok
}

// PairFor returns the first routable pair between a and b regardless of order.
// When only unroutable pairs exist the first of them is returned with ok=false.
func (s *Snapshot) PairFor(a, b common.Address) (types.Pair, bool) {
	idx := s.byKey[types.PairKey(a, b)]
	for _, i := range idx {
		if s.pairs[i].Routable() {
			return s.pairs[i], true
		}
	}
	if len(idx) > 0 {
		return s.pairs[idx[0]], false
	}
	return types.Pair{}, false
}

// Adjacent returns the routable pairs containing token, ordered by pair ID
func (s *Snapshot) Adjacent(token common.Address) []types.Pair {
	idx := s.adjacency[token]
	out := make([]types.Pair, len(idx))
	for i, j := range idx {
		out[i] = s.pairs[j]
	}
	return out
}

// Tokens lists registered tokens whose symbol, name or address contains
// search (case-insensitive), sorted by symbol. limit <= 0 uses DefaultTokenLimit.
func (s *Snapshot) Tokens(limit int, search string) []types.Token {
	if limit <= 0 {
		limit = DefaultTokenLimit
	}
	needle := strings.ToLower(strings.TrimSpace(search))

	out := make([]types.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		if needle != "" &&
			!strings.Contains(strings.ToLower(t.Symbol), needle) &&
			!strings.Contains(strings.ToLower(t.Name), needle) &&
			!strings.Contains(strings.ToLower(t.Address.Hex()), needle) {
			continue
		}
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Address.Hex() < out[j].Address.Hex()
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
