// Package contracts holds the ABIs of every contract the engine talks to.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

const routerSwapsJSON = `
{"name":"swapExactETHForTokens","type":"function","stateMutability":"payable","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
{"name":"swapExactTokensForETH","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
{"name":"swapETHForExactTokens","type":"function","stateMutability":"payable","inputs":[{"name":"amountOut","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
{"name":"swapTokensForExactETH","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountOut","type":"uint256"},{"name":"amountInMax","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
{"name":"swapTokensForExactTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountOut","type":"uint256"},{"name":"amountInMax","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}`

const proxyExtraJSON = `
{"name":"partnerFee","type":"function","stateMutability":"view","inputs":[{"name":"partnerId","type":"bytes32"}],"outputs":[{"name":"feeRecipient","type":"address"},{"name":"feeBps","type":"uint16"}]},
{"name":"feeEnabled","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]}`

const erc20JSON = `[
{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const factoryJSON = `[
{"name":"allPairsLength","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"name":"allPairs","type":"function","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"pair","type":"address"}]}
]`

const pairJSON = `[
{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}
]`

var (
	// Router is the constant-product router swap surface
	Router = mustParse("[" + routerSwapsJSON + "]")
	// Proxy is the fee-collecting proxy: the router surface plus the fee registry
	Proxy = mustParse("[" + routerSwapsJSON + "," + proxyExtraJSON + "]")
	// ERC20 covers allowance, approval and metadata
	ERC20 = mustParse(erc20JSON)
	// Factory enumerates pairs
	Factory = mustParse(factoryJSON)
	// Pair reads pair tokens and reserves
	Pair = mustParse(pairJSON)
)

// Marker tags appended to proxy calldata
const (
	PermitTag  = "permit"
	PartnerTag = "is_partner_fee"
)

// Marker returns the first 16 bytes of keccak256(tag)
func Marker(tag string) []byte {
	return crypto.Keccak256([]byte(tag))[:16]
}

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("contracts: invalid ABI: " + err.Error())
	}
	return parsed
}
