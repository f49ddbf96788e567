package walletops

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var erc20TransferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

var erc20TransferArgs abi.Arguments

func init() {
	addrTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	erc20TransferArgs = abi.Arguments{{Type: addrTy}, {Type: uint256Ty}}
}

// encodeERC20Transfer ABI-encodes a transfer(address,uint256) call.
func encodeERC20Transfer(to common.Address, amount *big.Int) ([]byte, error) {
	packed, err := erc20TransferArgs.Pack(to, amount)
	if err != nil {
		return nil, fmt.Errorf("walletops/ethereum: pack transfer args: %w", err)
	}
	return append(append([]byte{}, erc20TransferSelector...), packed...), nil
}

func ethereumCallMsg(from common.Address, to *common.Address, value *big.Int, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{
		From:  from,
		To:    to,
		Value: value,
		Data:  data,
	}
}
