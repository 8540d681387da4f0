package ethereum

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestSimulatedClientReads(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	chainID := big.NewInt(1337)
	funding := big.NewInt(1_000_000_000_000_000_000)
	alloc := core.GenesisAlloc{
		from: {Balance: funding},
	}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)
	client := NewSimulatedClient("simulated", chainID, backend)
	t.Cleanup(client.Close)

	backend.Commit()

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x"+chainID.Text(16) {
		t.Fatalf("unexpected chain id %s", snapshot.ChainID)
	}
	if snapshot.BlockNumber == "0x0" {
		t.Fatal("expected block number to advance after commit")
	}

	balance, err := client.BalanceAt(ctx, from.Hex())
	if err != nil {
		t.Fatalf("balance at: %v", err)
	}
	if balance.Cmp(funding) != 0 {
		t.Fatalf("unexpected balance %s", balance)
	}

	nonce, err := client.PendingNonceAt(ctx, from.Hex())
	if err != nil {
		t.Fatalf("pending nonce: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("unexpected nonce %d", nonce)
	}

	id, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if id.Cmp(chainID) != 0 {
		t.Fatalf("unexpected chain id %s", id)
	}

	if client.ContractBackend() == nil {
		t.Fatal("expected contract backend")
	}
}

func TestBalanceAtRequiresAddress(t *testing.T) {
	t.Parallel()

	backend := backends.NewSimulatedBackend(core.GenesisAlloc{}, 8_000_000)
	client := NewSimulatedClient("simulated", big.NewInt(1337), backend)
	t.Cleanup(client.Close)

	if _, err := client.BalanceAt(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty address")
	}
}
