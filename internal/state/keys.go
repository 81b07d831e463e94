// Package state is the typed façade over the embedded key-value store: it
// owns the key layout every other component relies on and the atomic-batch
// contract transactions and blocks are applied through.
package state

import "fmt"

const (
	domainPrefix      = "domains/"
	accountPrefix     = "accounts/"
	accountRolePrefix = "account_roles/"
	assetPrefix       = "assets/"
	balancePrefix     = "balances/"
	rolePrefix        = "roles/"
	validatorPrefix   = "validators/"
	blockPrefix       = "blocks/"
	blockByHashPrefix = "blocks_by_hash/"
	txPrefix          = "txs/"
	noncePrefix       = "nonces/"

	chainIDKey    = "chain_id"
	lastHeightKey = "last_height"
)

func domainKey(id string) []byte      { return []byte(domainPrefix + id) }
func accountKey(id string) []byte     { return []byte(accountPrefix + id) }
func accountRoleKey(id string) []byte { return []byte(accountRolePrefix + id) }
func assetKey(id string) []byte       { return []byte(assetPrefix + id) }

func balanceKey(assetID, accountID string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", balancePrefix, assetID, accountID))
}

func roleKey(id string) []byte      { return []byte(rolePrefix + id) }
func validatorKey(id string) []byte { return []byte(validatorPrefix + id) }
func blockKey(height uint64) []byte { return []byte(fmt.Sprintf("%s%d", blockPrefix, height)) }
func blockByHashKey(hash string) []byte {
	return []byte(blockByHashPrefix + hash)
}
func txKey(hash string) []byte      { return []byte(txPrefix + hash) }
func nonceKey(signer string) []byte { return []byte(noncePrefix + signer) }
