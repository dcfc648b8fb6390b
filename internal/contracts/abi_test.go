package contracts

import (
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
)

func methodNames(a abi.ABI) []string {
	names := make([]string, 0, len(a.Methods))
	for name := range a.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func TestMethodSets(t *testing.T) {
	swaps := []string{
		"swapETHForExactTokens",
		"swapExactETHForTokens",
		"swapExactTokensForETH",
		"swapExactTokensForTokens",
		"swapTokensForExactETH",
		"swapTokensForExactTokens",
	}

	tests := []struct {
		name string
		abi  abi.ABI
		want []string
	}{
		{name: "router", abi: Router, want: swaps},
		{name: "proxy", abi: Proxy, want: append([]string{"feeEnabled", "partnerFee"}, swaps...)},
		{name: "erc20", abi: ERC20, want: []string{"allowance", "approve", "decimals", "name", "symbol"}},
		{name: "factory", abi: Factory, want: []string{"allPairs", "allPairsLength"}},
		{name: "pair", abi: Pair, want: []string{"getReserves", "token0", "token1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := append([]string(nil), tt.want...)
			sort.Strings(want)
			assert.Equal(t, want, methodNames(tt.abi))
		})
	}
}

func TestMarker(t *testing.T) {
	assert.Equal(t, crypto.Keccak256([]byte("permit"))[:16], Marker(PermitTag))
	assert.Len(t, Marker(PartnerTag), 16)
}
