package hyperliquid

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// Wallet signs L1 actions with the phantom-agent scheme: the msgpack-encoded
// action is hashed into a connection id, wrapped into an Agent struct, and
// signed under the fixed EIP-712 Exchange domain.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func NewWallet(privateKeyHex string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("hyperliquid wallet: %w", err)
	}
	return &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

// Address is the 0x account address derived from the key.
func (w *Wallet) Address() string { return w.address }

type wireSignature struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// Sign implements Signer.
func (w *Wallet) Sign(action any, nonce uint64, chain Chain) (json.RawMessage, error) {
	digest, err := actionDigest(action, nonce, chain)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid wallet: sign: %w", err)
	}
	return json.Marshal(wireSignature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: sig[64] + 27,
	})
}

// connectionID hashes msgpack(action) ++ nonce ++ vault flag. No vault is
// configured, so the flag byte is always zero.
func connectionID(action any, nonce uint64) ([]byte, error) {
	packed, err := msgpack.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid wallet: pack action: %w", err)
	}
	data := make([]byte, 0, len(packed)+9)
	data = append(data, packed...)
	data = binary.BigEndian.AppendUint64(data, nonce)
	data = append(data, 0x00)
	return crypto.Keccak256(data), nil
}

// actionDigest assembles the EIP-712 digest over the phantom agent. The
// domain is fixed by the venue: name "Exchange", version "1", chain id 1337,
// zero verifying contract. The agent source is "a" on mainnet, "b" elsewhere.
func actionDigest(action any, nonce uint64, chain Chain) ([]byte, error) {
	connID, err := connectionID(action, nonce)
	if err != nil {
		return nil, err
	}
	source := "b"
	if chain == ChainArbitrum {
		source = "a"
	}

	domainSep := crypto.Keccak256(
		crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)")),
		crypto.Keccak256([]byte("Exchange")),
		crypto.Keccak256([]byte("1")),
		uint256Bytes(1337),
		make([]byte, 32), // zero address, left-padded to a word
	)
	structHash := crypto.Keccak256(
		crypto.Keccak256([]byte("Agent(string source,bytes32 connectionId)")),
		crypto.Keccak256([]byte(source)),
		connID,
	)
	return crypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash), nil
}

func uint256Bytes(v uint64) []byte {
	b := make([]byte, 32)
	binary.BigEndian.PutUint64(b[24:], v)
	return b
}
