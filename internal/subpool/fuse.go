package subpool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// FuseMarkets are the known mainnet Fuse pool markets, by pool number then
// currency code.
var FuseMarkets = map[int]map[string]string{
	2:  {"USDC": "0x69aEd4932B3aB019609dc567809FA6953a7E0858"},
	3:  {"USDC": "0x94C49563a3950424a2a7790c3eF5458A2A359C7e"},
	6:  {"USDC": "0xdb55b77f5e8a1a41931684cf9e4881d24e6b6cc9", "DAI": "0x989273ec41274C4227bCB878C2c26fdd3afbE70d"},
	7:  {"USDC": "0x53De5A7B03dc24Ff5d25ccF7Ad337a0425Dfd8D1", "DAI": "0x7322B10Db09687fe8889aD8e87f333f95104839F"},
	11: {"USDC": "0x241056eb034BEA7482290f4a9E3e4dd7269D4329"},
	13: {"USDC": "0x3b624de26A6CeBa421f9857127e37A5EFD8ecaab"},
	14: {"USDC": "0x6447026FE96363669B5be2EE135843a5e4d15B50"},
	15: {"USDC": "0x5F9FaeD5599D86D2e6F8d982189d560C067897a0"},
	16: {"USDC": "0x7bA788fa2773fb157EfAfAd046FE5E0e6120DEd5"},
	18: {"USDC": "0x6f95d4d251053483f41c8718C30F4F3C404A8cf2", "DAI": "0x8E4E0257A4759559B4B1AC087fe8d80c63f20D19"},
}

// ParseMarkets converts a currency to address map, rejecting invalid addresses.
func ParseMarkets(raw map[string]string) (map[string]common.Address, error) {
	markets := make(map[string]common.Address, len(raw))
	for currency, addr := range raw {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("market %s: invalid address %q", currency, addr)
		}
		markets[currency] = common.HexToAddress(addr)
	}
	return markets, nil
}
