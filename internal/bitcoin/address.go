package bitcoin

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bardlex/gosolo/pkg/errors"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// CheckAddressFormat applies the length and character-set heuristic for
// legacy payout addresses: 26 to 35 base58 characters.
func CheckAddressFormat(address string) error {
	if len(address) < 26 || len(address) > 35 {
		return errors.New(errors.ErrorTypeValidation, "check_address", "address length outside 26-35 characters").
			WithContext("length", len(address))
	}
	for i, c := range address {
		if !strings.ContainsRune(base58Alphabet, c) {
			return errors.New(errors.ErrorTypeValidation, "check_address", "address contains a non-base58 character").
				WithContext("position", i)
		}
	}
	return nil
}

// ValidateAddress decodes the address against the given network (mainnet
// when nil). Addresses the decoder rejects fall back to CheckAddressFormat.
// The result is advisory; callers log it and keep going.
func ValidateAddress(address string, params *chaincfg.Params) error {
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	decoded, err := btcutil.DecodeAddress(address, params)
	if err == nil {
		if !decoded.IsForNet(params) {
			return errors.New(errors.ErrorTypeValidation, "validate_address", "address belongs to another network").
				WithContext("network", params.Name)
		}
		return nil
	}

	if fmtErr := CheckAddressFormat(address); fmtErr != nil {
		return fmtErr
	}
	return errors.Wrap(err, errors.ErrorTypeValidation, "validate_address", "address failed to decode")
}

// NetParams maps a network name to its chain parameters.
func NetParams(network string) *chaincfg.Params {
	switch strings.ToLower(network) {
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.MainNetParams
	}
}
