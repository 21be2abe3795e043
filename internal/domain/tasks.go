package domain

// TaskConfig carries the chain configuration that drives task resolution.
type TaskConfig struct {
	// UsesExternalToken is true when value is held in an external token
	// contract rather than minted credit, which adds the master-wallet
	// approval and native-currency load steps to disbursements.
	UsesExternalToken bool
	// ForceLoadAmount, when positive, forces a native-currency load alongside
	// every external-token disbursement so recipients can pay gas.
	ForceLoadAmount int64
}

// RequiredTasks resolves the ordered set of on-chain tasks a transfer needs
// for settlement. Pure function of the transfer type, the chain
// configuration, and the recipient's derived approval status.
//
// Decision table:
//
//	WITHDRAWAL, PAYMENT                          -> transfer
//	DISBURSEMENT, no external token              -> initial credit mint
//	DISBURSEMENT, external token, approved       -> disbursement [+ ether load if forced]
//	DISBURSEMENT, external token, not approved   -> disbursement, ether load, master wallet approval
func RequiredTasks(t *Transfer, cfg TaskConfig, approval ApprovalStatus) []TaskKind {
	if t.Type != TransferTypeDisbursement {
		return []TaskKind{TaskTransfer}
	}

	if !cfg.UsesExternalToken {
		return []TaskKind{TaskInitialCreditMint}
	}

	if approval.Settled() {
		if cfg.ForceLoadAmount > 0 {
			return []TaskKind{TaskDisbursement, TaskEtherLoad}
		}
		return []TaskKind{TaskDisbursement}
	}

	return []TaskKind{TaskDisbursement, TaskEtherLoad, TaskMasterWalletApproval}
}
