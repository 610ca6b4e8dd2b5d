package domain

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

var (
	// ErrMalformedAddress is returned for contract addresses that fit no known chain format.
	ErrMalformedAddress = errors.New("malformed contract address")
	// ErrInvalidQuery is returned for search input that is neither an address nor a symbol.
	ErrInvalidQuery = errors.New("invalid asset query")
)

// ChainHint tells adapters which address family an identity belongs to.
type ChainHint int

const (
	// ChainNone means the asset is known by symbol only.
	ChainNone ChainHint = iota
	ChainEVM
	ChainSolana
	// ChainOther is an address-shaped string only a DEX aggregator can resolve.
	ChainOther
)

func (c ChainHint) String() string {
	switch c {
	case ChainEVM:
		return "evm"
	case ChainSolana:
		return "solana"
	case ChainOther:
		return "other"
	default:
		return "none"
	}
}

// MarshalText renders the hint as its string name.
func (c ChainHint) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

const (
	solanaKeyLen       = 32
	minOpaqueAddrLen   = 31
	minSolanaAddrChars = 32
	maxSolanaAddrChars = 44
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9._-]{1,20}$`)

// AssetIdentity names the asset a price is requested for.
type AssetIdentity struct {
	Symbol          string    `json:"symbol"`
	ContractAddress string    `json:"contract_address,omitempty"`
	Chain           ChainHint `json:"chain"`
	// CoinID is the market-data provider id when it is already known (e.g. from a search).
	CoinID string `json:"coin_id,omitempty"`
}

// NewAssetIdentity validates and classifies an asset. The address may be empty, in which
// case the symbol is required.
func NewAssetIdentity(symbol, address string) (AssetIdentity, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	address = strings.TrimSpace(address)

	if address == "" {
		if !symbolPattern.MatchString(symbol) {
			return AssetIdentity{}, errors.Wrapf(ErrInvalidQuery, "symbol %q", symbol)
		}
		return AssetIdentity{Symbol: symbol, Chain: ChainNone}, nil
	}

	chain, normalized, err := ClassifyAddress(address)
	if err != nil {
		return AssetIdentity{}, err
	}

	return AssetIdentity{Symbol: symbol, ContractAddress: normalized, Chain: chain}, nil
}

// ClassifyAddress determines the chain family of a contract address and returns its
// normalized form. It performs no network calls.
func ClassifyAddress(address string) (ChainHint, string, error) {
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		if !common.IsHexAddress(address) || len(address) != 42 {
			return ChainNone, "", errors.Wrapf(ErrMalformedAddress, "%q is not a 20-byte hex address", address)
		}
		return ChainEVM, strings.ToLower(address), nil
	}

	if len(address) >= minSolanaAddrChars && len(address) <= maxSolanaAddrChars {
		if raw, err := base58.Decode(address); err == nil && len(raw) == solanaKeyLen {
			return ChainSolana, address, nil
		}
	}

	if len(address) >= minOpaqueAddrLen && !strings.ContainsAny(address, " \t\n/?#") {
		return ChainOther, address, nil
	}

	return ChainNone, "", errors.Wrapf(ErrMalformedAddress, "%q", address)
}

// ParseQuery turns free-form search input into an identity. Address-shaped input is
// classified by chain; anything else is treated as a ticker symbol.
func ParseQuery(q string) (AssetIdentity, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return AssetIdentity{}, errors.Wrap(ErrInvalidQuery, "empty query")
	}

	if looksLikeAddress(q) {
		return NewAssetIdentity("", q)
	}

	return NewAssetIdentity(q, "")
}

func looksLikeAddress(q string) bool {
	if strings.HasPrefix(q, "0x") || strings.HasPrefix(q, "0X") {
		return true
	}
	return len(q) >= minOpaqueAddrLen
}

// Key is the tracking key used by synchronizers and positions.
func (a AssetIdentity) Key() string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.ContractAddress
}

// HasAddress reports whether the identity carries a contract address.
func (a AssetIdentity) HasAddress() bool {
	return a.ContractAddress != "" && a.Chain != ChainNone
}

func (a AssetIdentity) String() string {
	if a.ContractAddress == "" {
		return a.Symbol
	}
	if a.Symbol == "" {
		return a.ContractAddress
	}
	return a.Symbol + "@" + a.ContractAddress
}
