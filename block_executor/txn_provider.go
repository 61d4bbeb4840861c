package block_executor

import (
	"github.com/Taraxa-project/taraxa-stm/stm_types"
)

// DefaultTxnProvider serves a locally resident slice of transactions.
type DefaultTxnProvider struct {
	txns []stm_types.Transaction
}

func NewDefaultTxnProvider(txns []stm_types.Transaction) *DefaultTxnProvider {
	return &DefaultTxnProvider{txns}
}

func (this *DefaultTxnProvider) NumTxns() int {
	return len(this.txns)
}

func (this *DefaultTxnProvider) Txn(idx stm_types.TxnIndex) stm_types.Transaction {
	return this.txns[idx]
}

func (this *DefaultTxnProvider) FirstTxn() stm_types.TxnIndex {
	return 0
}

func (this *DefaultTxnProvider) NextTxn(idx stm_types.TxnIndex) stm_types.TxnIndex {
	return idx + 1
}
