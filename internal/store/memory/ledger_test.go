package memory_test

import (
	"testing"

	"github.com/alanyoungcy/privymarket/internal/domain"
	"github.com/alanyoungcy/privymarket/internal/store/memory"
	"github.com/alanyoungcy/privymarket/internal/store/storetest"
)

func TestLedger(t *testing.T) {
	storetest.RunLedger(t, func(t *testing.T) domain.Ledger {
		return memory.NewLedger()
	})
}
