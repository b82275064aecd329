package address

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestMarket_Deterministic(t *testing.T) {
	assert.Equal(t, Market(1), Market(1))
	assert.NotEqual(t, Market(1), Market(2))
	assert.NotEqual(t, Market(1), Market(1<<56), "little-endian encoding must not collide")
}

func TestDerive_TagsSeparateNamespaces(t *testing.T) {
	m := Market(7)
	user := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	seen := map[common.Address]string{
		Registry():        "registry",
		m:                 "market",
		Vault(m):          "vault",
		Position(m, user): "position",
		Position(m, m):    "position-self",
		Vault(Market(8)):  "vault-8",
	}
	assert.Len(t, seen, 6)
}

func TestPosition_PerUser(t *testing.T) {
	m := Market(1)
	a := common.HexToAddress("0x1111111111111111111111111111111111111111")
	b := common.HexToAddress("0x2222222222222222222222222222222222222222")

	assert.NotEqual(t, Position(m, a), Position(m, b))
	assert.Equal(t, Position(m, a), Position(m, a))
}
