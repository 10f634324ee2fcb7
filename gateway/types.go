package gateway

import (
	"context"
	"time"
)

// Transactor is a bound handle on one ledger contract. Evaluate runs a
// read-only query. Submit sends a mutation and returns before it is final.
type Transactor interface {
	Evaluate(ctx context.Context, fn string, args ...string) ([]byte, error)
	Submit(ctx context.Context, fn string, args ...string) (PendingTx, error)
}

// PendingTx is a submitted transaction whose outcome is not yet known.
type PendingTx interface {
	TransactionID() string
	// Confirm blocks until the network finalizes the transaction.
	Confirm(ctx context.Context) (*Receipt, error)
}

// ConnectOptions locate the peer, the wallet and the contracts.
type ConnectOptions struct {
	PeerEndpoint     string
	PeerHostOverride string
	TLSCertPath      string
	MSPID            string
	CertPath         string
	KeyPath          string
	Channel          string
	Chaincode        string
	ManagerContract  string
	TokenContract    string

	EvaluateTimeout time.Duration
	EndorseTimeout  time.Duration
	SubmitTimeout   time.Duration
	CommitTimeout   time.Duration
}

// Receipt describes a confirmed transaction.
type Receipt struct {
	TransactionID  string `json:"transactionId"`
	BlockNumber    uint64 `json:"blockNumber"`
	ValidationCode string `json:"validationCode"`
	Result         []byte `json:"-"`
}

// Session is the connected wallet and its contract handles. It is read-only
// once built and is passed explicitly into every operation.
type Session struct {
	Account string
	Manager Transactor
	Token   Transactor
}

// EndorsementRecord is one endorsement as seen by callers of the gateway.
type EndorsementRecord struct {
	Index         int       `json:"index"`
	Endorser      string    `json:"endorser"`
	Endorsee      string    `json:"endorsee"`
	EndorserName  string    `json:"endorserName"`
	EndorseeName  string    `json:"endorseeName"`
	Location      string    `json:"location"`
	Occupation    string    `json:"occupation"`
	PhoneNumber   string    `json:"phoneNumber"`
	Reason        string    `json:"reason"`
	Review        int       `json:"review"`
	AttachmentRef string    `json:"attachmentRef"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	Timestamp     int64     `json:"timestamp"`
	FiledAt       time.Time `json:"filedAt"`
	DisplayTime   string    `json:"displayTime"`
	Validated     bool      `json:"validated"`
	ValidatedBy   string    `json:"validatedBy,omitempty"`
}

// FilingRequest carries the ledger arguments of one endorsement.
type FilingRequest struct {
	Subject       string
	EndorserName  string
	EndorseeName  string
	Location      string
	Occupation    string
	PhoneNumber   string
	Reason        string
	AttachmentRef string
	Review        int
}

// ValidatorSet is the resolved owner and validator allowlist.
type ValidatorSet struct {
	Owner      string   `json:"owner"`
	Validators []string `json:"validators"`
}
