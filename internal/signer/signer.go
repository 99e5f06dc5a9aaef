package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the hot-wallet key. The key never leaves this type; callers
// only get signed transactions back.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
}

func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	// 1. Parse private key
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}

	// 2. Derive address
	publicKeyECDSA, ok := key.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("error casting public key to ECDSA")
	}

	id := big.NewInt(chainID)
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(*publicKeyECDSA),
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
	}, nil
}

// SignTx signs an EIP-1559 transaction for the configured chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// String never prints key material.
func (s *Signer) String() string {
	return fmt.Sprintf("Signer(%s, chain %s)", s.address.Hex(), s.chainID)
}
