package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestRequiredTasks(t *testing.T) {
	payment := &Transfer{ID: uuid.New(), Type: TransferTypePayment}
	withdrawal := &Transfer{ID: uuid.New(), Type: TransferTypeWithdrawal}
	disbursement := &Transfer{ID: uuid.New(), Type: TransferTypeDisbursement}

	tests := []struct {
		name     string
		transfer *Transfer
		cfg      TaskConfig
		approval ApprovalStatus
		want     []TaskKind
	}{
		{
			name:     "payment always settles with a transfer",
			transfer: payment,
			cfg:      TaskConfig{UsesExternalToken: true},
			approval: ApprovalNoRequest,
			want:     []TaskKind{TaskTransfer},
		},
		{
			name:     "withdrawal always settles with a transfer",
			transfer: withdrawal,
			cfg:      TaskConfig{},
			approval: ApprovalNotRequired,
			want:     []TaskKind{TaskTransfer},
		},
		{
			name:     "minted credit disbursement",
			transfer: disbursement,
			cfg:      TaskConfig{UsesExternalToken: false},
			approval: ApprovalNotRequired,
			want:     []TaskKind{TaskInitialCreditMint},
		},
		{
			name:     "external token disbursement to approved account",
			transfer: disbursement,
			cfg:      TaskConfig{UsesExternalToken: true},
			approval: ApprovalApproved,
			want:     []TaskKind{TaskDisbursement},
		},
		{
			name:     "external token disbursement with forced load",
			transfer: disbursement,
			cfg:      TaskConfig{UsesExternalToken: true, ForceLoadAmount: 100},
			approval: ApprovalApproved,
			want:     []TaskKind{TaskDisbursement, TaskEtherLoad},
		},
		{
			name:     "external token disbursement to unapproved account",
			transfer: disbursement,
			cfg:      TaskConfig{UsesExternalToken: true},
			approval: ApprovalNoRequest,
			want:     []TaskKind{TaskDisbursement, TaskEtherLoad, TaskMasterWalletApproval},
		},
		{
			name:     "failed approval is retried alongside the disbursement",
			transfer: disbursement,
			cfg:      TaskConfig{UsesExternalToken: true},
			approval: ApprovalFailed,
			want:     []TaskKind{TaskDisbursement, TaskEtherLoad, TaskMasterWalletApproval},
		},
		{
			name:     "requested approval does not re-request",
			transfer: disbursement,
			cfg:      TaskConfig{UsesExternalToken: true},
			approval: ApprovalRequested,
			want:     []TaskKind{TaskDisbursement, TaskEtherLoad, TaskMasterWalletApproval},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RequiredTasks(tt.transfer, tt.cfg, tt.approval)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d tasks %v, got %d tasks %v", len(tt.want), tt.want, len(got), got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("expected task %s at position %d, got %s", tt.want[i], i, got[i])
				}
			}
		})
	}
}

func TestDeriveApprovalStatus(t *testing.T) {
	keyed := &ChainAddress{ID: uuid.New(), Owner: OwnerAccount, Address: "addr1", EncryptedPrivateKey: "enc"}
	external := &ChainAddress{ID: uuid.New(), Owner: OwnerExternal, Address: "addr2"}

	approval := func(status ReceiptStatus) ChainReceipt {
		return ChainReceipt{ID: uuid.New(), TaskKind: TaskMasterWalletApproval, Status: status}
	}

	tests := []struct {
		name     string
		external bool
		address  *ChainAddress
		receipts []ChainReceipt
		want     ApprovalStatus
	}{
		{
			name:     "minted credit never needs approval",
			external: false,
			address:  keyed,
			want:     ApprovalNotRequired,
		},
		{
			name:     "address without key material never needs approval",
			external: true,
			address:  external,
			want:     ApprovalNotRequired,
		},
		{
			name:     "no receipts means no request yet",
			external: true,
			address:  keyed,
			want:     ApprovalNoRequest,
		},
		{
			name:     "most successful receipt wins",
			external: true,
			address:  keyed,
			receipts: []ChainReceipt{approval(ReceiptStatusFailed), approval(ReceiptStatusSuccess)},
			want:     ApprovalApproved,
		},
		{
			name:     "pending request reported as requested",
			external: true,
			address:  keyed,
			receipts: []ChainReceipt{approval(ReceiptStatusPending)},
			want:     ApprovalRequested,
		},
		{
			name:     "only failures reported as failed",
			external: true,
			address:  keyed,
			receipts: []ChainReceipt{approval(ReceiptStatusFailed)},
			want:     ApprovalFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveApprovalStatus(tt.external, tt.address, tt.receipts)
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestVendorTierMeets(t *testing.T) {
	if !TierSupervendor.Meets(TierVendor) {
		t.Fatal("expected supervendor to satisfy vendor requirements")
	}
	if !TierVendor.Meets(TierVendor) {
		t.Fatal("expected vendor to satisfy vendor requirements")
	}
	if TierNone.Meets(TierVendor) {
		t.Fatal("expected non-vendor to fail vendor requirements")
	}
}
