package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI definitions, only the view functions we read.

// ERC20 ABI
const ERC20ABIJSON = `[
	{
		"inputs": [],
		"name": "decimals",
		"outputs": [{"internalType": "uint8", "name": "", "type": "uint8"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "symbol",
		"outputs": [{"internalType": "string", "name": "", "type": "string"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "name",
		"outputs": [{"internalType": "string", "name": "", "type": "string"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "totalSupply",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Compound cToken ABI (also used by Fuse pools)
const CTokenABIJSON = `[
	{
		"inputs": [],
		"name": "supplyRatePerBlock",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "exchangeRateStored",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Aave V2 protocol data provider ABI
const AaveDataProviderABIJSON = `[
	{
		"inputs": [{"internalType": "address", "name": "asset", "type": "address"}],
		"name": "getReserveData",
		"outputs": [
			{"internalType": "uint256", "name": "availableLiquidity", "type": "uint256"},
			{"internalType": "uint256", "name": "totalStableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "totalVariableDebt", "type": "uint256"},
			{"internalType": "uint256", "name": "liquidityRate", "type": "uint256"},
			{"internalType": "uint256", "name": "variableBorrowRate", "type": "uint256"},
			{"internalType": "uint256", "name": "stableBorrowRate", "type": "uint256"},
			{"internalType": "uint256", "name": "averageStableBorrowRate", "type": "uint256"},
			{"internalType": "uint256", "name": "liquidityIndex", "type": "uint256"},
			{"internalType": "uint256", "name": "variableBorrowIndex", "type": "uint256"},
			{"internalType": "uint40", "name": "lastUpdateTimestamp", "type": "uint40"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Alpha Homora bank ABI
const AlphaBankABIJSON = `[
	{
		"inputs": [],
		"name": "totalETH",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "glbDebtVal",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "config",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Alpha Homora bank config ABI
const AlphaConfigABIJSON = `[
	{
		"inputs": [
			{"internalType": "uint256", "name": "debt", "type": "uint256"},
			{"internalType": "uint256", "name": "floating", "type": "uint256"}
		],
		"name": "getInterestRate",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getReservePoolBps",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	ERC20ABI            abi.ABI
	CTokenABI           abi.ABI
	AaveDataProviderABI abi.ABI
	AlphaBankABI        abi.ABI
	AlphaConfigABI      abi.ABI
)

func init() {
	ERC20ABI = mustParse("ERC20", ERC20ABIJSON)
	CTokenABI = mustParse("cToken", CTokenABIJSON)
	AaveDataProviderABI = mustParse("Aave data provider", AaveDataProviderABIJSON)
	AlphaBankABI = mustParse("Alpha bank", AlphaBankABIJSON)
	AlphaConfigABI = mustParse("Alpha config", AlphaConfigABIJSON)
}

func mustParse(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse " + name + " ABI: " + err.Error())
	}
	return parsed
}
