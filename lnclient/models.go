// Package lnclient defines the interface the LSPS stack needs from the
// backing Lightning node, together with the data types crossing it.
package lnclient

import (
	"context"
	"time"
)

// CustomMessage is a BOLT8 custom message delivered by the node.
type CustomMessage struct {
	PeerPubkey string
	Type       uint32
	Data       []byte
}

// Invoice is a BOLT11 invoice created by the node.
type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Label          string
	AmountSat      uint64
	ExpiresAt      time.Time
}

// InvoicePayment reports a settled incoming payment. Label is the
// idempotency key the invoice was created with; payments whose label is
// unknown to the caller must be ignored.
type InvoicePayment struct {
	Label       string
	PaymentHash string
	AmountSat   uint64
	SettledAt   time.Time
}

// ConnectPeerRequest identifies a peer to establish a connection with.
type ConnectPeerRequest struct {
	Pubkey  string
	Address string
	Port    uint16
}

// ChannelReservation is the peer-acknowledged reservation returned by
// ReserveChannel. FundingAddress is where the funding output must pay to.
type ChannelReservation struct {
	PeerPubkey     string
	FundingAddress string
	PendingChanId  []byte
}

// ReserveChannelRequest carries the negotiated channel parameters.
type ReserveChannelRequest struct {
	PeerPubkey      string
	CapacitySat     uint64
	PushSat         uint64
	SatPerVByte     uint64
	MinConfs        int32
	AnnounceChannel bool
}

// FundingTx is a funding transaction as it moves through the workflow:
// first funded (inputs selected and locked), then signed, then final.
// The wallet keeps the locked inputs reserved until the tx is either
// published or discarded.
type FundingTx struct {
	// TxId and OutputIndex are set once the commitment is secured and
	// the final transaction is known.
	TxId        string
	OutputIndex uint32

	FundedPsbt  []byte
	SignedPsbt  []byte
	FinalRawTx  []byte
	LockedUtxos []UtxoLease
}

// UtxoLease identifies a wallet input locked for a prepared transaction.
type UtxoLease struct {
	Id          []byte
	TxidBytes   []byte
	OutputIndex uint32
}

// LNClient is the node backend consumed by the LSPS stack. Implementations
// wrap a concrete node RPC surface; the LSPS code never talks to the node
// directly.
type LNClient interface {
	GetPubkey() string

	ConnectPeer(ctx context.Context, connectPeerRequest *ConnectPeerRequest) error
	SendCustomMessage(ctx context.Context, peerPubkey string, msgType uint32, data []byte) error
	SubscribeCustomMessages(ctx context.Context) (<-chan CustomMessage, <-chan error, error)

	MakeInvoice(ctx context.Context, amountSat uint64, label, description string, expiry time.Duration) (*Invoice, error)
	SubscribeInvoicePayments(ctx context.Context) (<-chan InvoicePayment, <-chan error, error)

	EstimateFeeRate(ctx context.Context, targetBlocks uint32) (satPerVByte uint64, err error)

	// Channel funding workflow. ReserveChannel corresponds to
	// fundchannel_start: the peer reserves the channel and hands back a
	// funding address. PrepareFundingTx builds but does not sign-and-send
	// the funding transaction. SecureCommitment exchanges commitment
	// signatures with the peer; only after it succeeds may the funding
	// transaction be broadcast.
	ReserveChannel(ctx context.Context, req *ReserveChannelRequest) (*ChannelReservation, error)
	PrepareFundingTx(ctx context.Context, address string, amountSat uint64, satPerVByte uint64) (*FundingTx, error)
	SecureCommitment(ctx context.Context, reservation *ChannelReservation, tx *FundingTx) error
	BroadcastTx(ctx context.Context, tx *FundingTx) error
	DiscardFundingTx(ctx context.Context, tx *FundingTx) error
	CancelChannelReservation(ctx context.Context, reservation *ChannelReservation) error

	Shutdown() error
}
