package wire

// InvType discriminates the kind of object an InventoryVector announces.
type InvType uint8

const (
	InvTx    InvType = 11
	InvBlock InvType = 21
)

// InventoryVector invites a peer to request the full object behind Hash via
// MsgGetData.
type InventoryVector struct {
	Type InvType
	Hash Hash
}

// UTXO is an unspent output as persisted by the chainstate collaborator.
type UTXO struct {
	ArrIndexes []uint32
	ArrOutputs []TxOut
}

// ReceiptStatus is the outcome of executing a transaction (contract calls
// included). The networking core never interprets it beyond relaying it;
// execution semantics belong to the VM collaborator.
type ReceiptStatus uint8

const (
	ReceiptFailed ReceiptStatus = 0
	ReceiptOK     ReceiptStatus = 1
)

// TxReceipt summarizes the effects of executing a transaction. The optional
// fields (ContractAddress, Message) must stay trailing for RLP's "optional"
// tag, which only permits omitting a contiguous suffix of zero-valued
// fields.
type TxReceipt struct {
	CoinsUsed       uint64
	Status          ReceiptStatus
	InternalTxns    []Hash
	Coins           []uint64
	ContractAddress *Address `rlp:"optional"`
	Message         string   `rlp:"optional"`
}
