// Package params centralizes the node's authoritative tuning constants so
// transport, peer, peer manager, and node agree on a single source of truth
// instead of each redeclaring its own copies.
package params

import "time"

const (
	MaxPeers = 10
	MinPeers = 3

	ConnectionTimeout = 60 * time.Second
	PeerQueryTimeout  = 30 * time.Second

	BanPeerScore = 100
	BanPeerTime  = 24 * time.Hour

	PeerHeartbeatTimeout   = 2 * time.Minute
	PeerDeadTime           = 6 * time.Minute
	PeerConnectionLifetime = 60 * time.Minute
	PeerMaxBytesCount      = 10 << 20 // 10 MiB
	PeerRestrictTime       = 2 * time.Minute

	PeerManagerBackupTimeout = 10 * time.Minute
	PeerReconnectInterval    = 2 * time.Minute
	PeerTickTimeout          = 1 * time.Second

	TxFee             = 100
	ContractFee       = 3000
	InternalTxFee     = 300
	StoragePerByteFee = 10

	MempoolTxQty      = 500
	MempoolTxLifetime = 24 * time.Hour

	BlockCreationTimeLimit = 1500 * time.Millisecond

	AddressPrefix = "Ux"
)
