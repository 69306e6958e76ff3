package balances

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/xssnick/tonutils-go/address"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

type AddressType string

const (
	AddressUnknown      AddressType = "unknown"
	AddressAccountModel AddressType = "account-model"
	AddressEVM          AddressType = "evm"
	AddressTON          AddressType = "ton"
	AddressBitcoin      AddressType = "bitcoin"
)

// ss58 payloads: 1 or 2 prefix bytes, 32 byte key (or 1-8 byte index), 2 checksum bytes
const (
	ss58MinLength = 35
	ss58MaxLength = 36
)

var bitcoinNets = []*chaincfg.Params{
	&chaincfg.MainNetParams,
	&chaincfg.TestNet3Params,
	&chaincfg.SigNetParams,
	&chaincfg.RegressionNetParams,
}

// DetectAddressType classifies an address by its format.
func DetectAddressType(addr string) AddressType {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return AddressUnknown
	}
	if common.IsHexAddress(addr) && strings.HasPrefix(addr, "0x") {
		return AddressEVM
	}
	if isTonAddress(addr) {
		return AddressTON
	}
	if isBitcoinAddress(addr) {
		return AddressBitcoin
	}
	if n := len(base58.Decode(addr)); n >= ss58MinLength && n <= ss58MaxLength {
		return AddressAccountModel
	}
	return AddressUnknown
}

func isTonAddress(addr string) bool {
	if strings.Contains(addr, ":") {
		_, err := address.ParseRawAddr(addr)
		return err == nil
	}
	if len(addr) != 48 {
		return false
	}
	_, err := address.ParseAddr(addr)
	return err == nil
}

func isBitcoinAddress(addr string) bool {
	for _, params := range bitcoinNets {
		decoded, err := btcutil.DecodeAddress(addr, params)
		if err == nil && decoded.IsForNet(params) {
			return true
		}
	}
	return false
}

// FamilyAddressType returns the address type served by a non-account-model family.
func FamilyAddressType(family models.Family) AddressType {
	switch family {
	case models.FamilyEVM:
		return AddressEVM
	case models.FamilyNativeLedger:
		return AddressTON
	case models.FamilyUTXO:
		return AddressBitcoin
	case models.FamilyAccountModel:
		return AddressAccountModel
	}
	return AddressUnknown
}
