package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	marketControllerKey = ethcrypto.Keccak256([]byte("market-controller"))
	marketRootKey       = ethcrypto.Keccak256([]byte("market-root"))
	marketListingPrefix = []byte("market-listing:")
	marketClaimedPrefix = []byte("market-claimed:")
	marketAuthPrefix    = []byte("market-auth:")

	tokenSupplyKey     = ethcrypto.Keccak256([]byte("token-supply"))
	tokenAuthorityKey  = ethcrypto.Keccak256([]byte("token-authority"))
	tokenBalancePrefix = []byte("token-balance:")
	tokenAllowPrefix   = []byte("token-allowance:")
	tokenNoncePrefix   = []byte("token-nonce:")

	assetAuthorityKey   = ethcrypto.Keccak256([]byte("asset-authority"))
	assetOwnerPrefix    = []byte("asset-owner:")
	assetApprovalPrefix = []byte("asset-approval:")
	assetOperatorPrefix = []byte("asset-operator:")
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}
