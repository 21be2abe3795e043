package worker

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/opencredit/ledger-service/internal/domain"
	"github.com/opencredit/ledger-service/pkg/explorer"
)

type ledgerAPIStub struct {
	outputs []domain.UnspentOutput

	inbound []domain.InboundTransfer
	spent   []string
}

func (s *ledgerAPIStub) ListUnspentOutputs(ctx context.Context) ([]domain.UnspentOutput, error) {
	return s.outputs, nil
}

func (s *ledgerAPIStub) MarkOutputSpent(ctx context.Context, receiptID string) error {
	s.spent = append(s.spent, receiptID)
	return nil
}

func (s *ledgerAPIStub) CreateInboundTransfer(ctx context.Context, inbound domain.InboundTransfer) error {
	s.inbound = append(s.inbound, inbound)
	return nil
}

type explorerMapStub struct {
	txs map[string]*explorer.Transaction
}

func (e *explorerMapStub) GetTransaction(ctx context.Context, hash string) (*explorer.Transaction, error) {
	tx, ok := e.txs[hash]
	if !ok {
		return nil, explorer.ErrTransactionNotFound
	}
	return tx, nil
}

func TestDiscovery_RecordsCounterpartySpendAndRetiresOutput(t *testing.T) {
	receiptID := uuid.New()
	ledger := &ledgerAPIStub{
		outputs: []domain.UnspentOutput{
			{ReceiptID: receiptID, TxHash: "0xout", RecipientAddress: "vendor_addr"},
		},
	}
	exp := &explorerMapStub{txs: map[string]*explorer.Transaction{
		"0xout": {
			Hash: "0xout",
			Outputs: []explorer.Output{
				{Addresses: []string{"vendor_addr"}, Value: 500000000, SpendTxID: "0xspend"},
			},
		},
		"0xspend": {
			Hash: "0xspend",
			Outputs: []explorer.Output{
				// The vendor paid a shop and took change back.
				{Addresses: []string{"shop_addr"}, Value: 150000000},
				{Addresses: []string{"vendor_addr"}, Value: 350000000},
			},
		},
	}}

	discovery := NewDiscovery(ledger, exp, testLogger(), -8)
	discovery.Run()

	if len(ledger.inbound) != 1 {
		t.Fatalf("expected one inbound transfer, got %d", len(ledger.inbound))
	}
	inbound := ledger.inbound[0]
	if inbound.SenderAddress != "vendor_addr" || inbound.RecipientAddress != "shop_addr" {
		t.Fatalf("expected vendor_addr -> shop_addr, got %s -> %s", inbound.SenderAddress, inbound.RecipientAddress)
	}
	if inbound.TxHash != "0xspend" {
		t.Fatalf("expected the spend hash, got %s", inbound.TxHash)
	}
	// 150,000,000 native units on an eight-decimal chain is 150 cents.
	if inbound.Amount != 150 {
		t.Fatalf("expected 150 cents, got %d", inbound.Amount)
	}

	if len(ledger.spent) != 1 || ledger.spent[0] != receiptID.String() {
		t.Fatalf("expected output %s marked spent, got %v", receiptID, ledger.spent)
	}
}

func TestDiscovery_UnspentOutputIsLeftWatched(t *testing.T) {
	ledger := &ledgerAPIStub{
		outputs: []domain.UnspentOutput{
			{ReceiptID: uuid.New(), TxHash: "0xout", RecipientAddress: "vendor_addr"},
		},
	}
	exp := &explorerMapStub{txs: map[string]*explorer.Transaction{
		"0xout": {
			Hash: "0xout",
			Outputs: []explorer.Output{
				{Addresses: []string{"vendor_addr"}, Value: 500000000},
			},
		},
	}}

	discovery := NewDiscovery(ledger, exp, testLogger(), -8)
	discovery.Run()

	if len(ledger.inbound) != 0 {
		t.Fatalf("expected no inbound transfers, got %d", len(ledger.inbound))
	}
	if len(ledger.spent) != 0 {
		t.Fatalf("expected output to stay watched, got %v", ledger.spent)
	}
}
