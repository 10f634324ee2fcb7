package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"skillendorse/account"
	"skillendorse/chaincode/model"

	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("skillendorse.gateway")

// Ledger function names.
const (
	fnInitLedger                  = "InitLedger"
	fnFileEndorsement             = "FileEndorsement"
	fnGetEndorsements             = "GetEndorsements"
	fnGetEndorsementsByOccupation = "GetEndorsementsByOccupation"
	fnValidateEndorsement         = "ValidateEndorsement"
	fnAddValidator                = "AddValidator"
	fnGetValidators               = "GetValidators"
	fnGetOwner                    = "GetOwner"
	fnBalanceOf                   = "BalanceOf"
)

// TokenDecimals is the reward token's decimal precision.
const TokenDecimals = 18

// LedgerClient builds typed requests against the endorsement and token
// contracts bound in a Session. It never retries.
type LedgerClient struct {
	gatewayHost string
	metrics     *Metrics
}

// NewLedgerClient returns a client whose records carry attachment URLs on
// gatewayHost. metrics may be nil.
func NewLedgerClient(gatewayHost string, metrics *Metrics) *LedgerClient {
	return &LedgerClient{gatewayHost: gatewayHost, metrics: metrics}
}

func requireSession(sess *Session) error {
	if sess == nil || sess.Manager == nil {
		return ErrNoSession
	}
	return nil
}

func normalizeSubject(field, subject string) (string, error) {
	normalized, err := account.Normalize(subject)
	if err != nil {
		return "", invalid(field, "%v", err)
	}
	return normalized, nil
}

// --- Mutations ---

// InitLedger makes the session's account the owner and seeds the validators.
func (c *LedgerClient) InitLedger(ctx context.Context, sess *Session, bootstrap []string) (*Receipt, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	seeds := make([]string, 0, len(bootstrap))
	for _, v := range bootstrap {
		normalized, err := normalizeSubject("validators", v)
		if err != nil {
			return nil, err
		}
		seeds = append(seeds, normalized)
	}
	payload, err := json.Marshal(seeds)
	if err != nil {
		return nil, fmt.Errorf("InitLedger: %w", err)
	}
	return c.submit(ctx, sess.Manager, fnInitLedger, string(payload))
}

// FileEndorsement appends one endorsement under req.Subject. It returns once
// the transaction is confirmed.
func (c *LedgerClient) FileEndorsement(ctx context.Context, sess *Session, req FilingRequest) (*Receipt, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	subject, err := normalizeSubject("subject", req.Subject)
	if err != nil {
		return nil, err
	}
	fields := []struct{ name, value string }{
		{"endorserName", req.EndorserName},
		{"endorseeName", req.EndorseeName},
		{"location", req.Location},
		{"occupation", req.Occupation},
		{"phoneNumber", req.PhoneNumber},
		{"reason", req.Reason},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return nil, invalid(f.name, "must not be empty")
		}
	}
	if req.Review < 0 || req.Review > model.MaxReview {
		return nil, invalid("review", "must be between 0 and %d", model.MaxReview)
	}
	return c.submit(ctx, sess.Manager, fnFileEndorsement,
		subject, req.EndorserName, req.EndorseeName, req.Location, req.Occupation,
		req.PhoneNumber, req.Reason, req.AttachmentRef, strconv.Itoa(req.Review))
}

// ValidateEndorsement approves the record (subject, index). A second call on
// the same record is rejected by the ledger and surfaces as an error.
func (c *LedgerClient) ValidateEndorsement(ctx context.Context, sess *Session, subject string, index int) (*Receipt, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	normalized, err := normalizeSubject("subject", subject)
	if err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, invalid("index", "must not be negative")
	}
	return c.submit(ctx, sess.Manager, fnValidateEndorsement, normalized, strconv.Itoa(index))
}

// GrantValidatorRole adds an account to the validator allowlist. Only the owner succeeds.
func (c *LedgerClient) GrantValidatorRole(ctx context.Context, sess *Session, identity string) (*Receipt, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	normalized, err := normalizeSubject("account", identity)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, sess.Manager, fnAddValidator, normalized)
}

func (c *LedgerClient) submit(ctx context.Context, t Transactor, op string, args ...string) (receipt *Receipt, err error) {
	start := time.Now()
	defer func() { c.metrics.observeLedger(op, start, err) }()

	pending, err := t.Submit(ctx, op, args...)
	if err != nil {
		return nil, ledgerError(op, err)
	}
	logger.Debugf("%s submitted as %s, awaiting confirmation", op, pending.TransactionID())
	receipt, err = pending.Confirm(ctx)
	if err != nil {
		return nil, ledgerError(op, err)
	}
	logger.Infof("%s confirmed: tx %s in block %d", op, receipt.TransactionID, receipt.BlockNumber)
	return receipt, nil
}

// --- Queries ---

// QueryBySubject returns every record filed under subject, in index order.
// No records is an empty slice, not an error.
func (c *LedgerClient) QueryBySubject(ctx context.Context, sess *Session, subject string) ([]EndorsementRecord, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	normalized, err := normalizeSubject("subject", subject)
	if err != nil {
		return nil, err
	}
	payload, err := c.evaluate(ctx, sess.Manager, fnGetEndorsements, normalized)
	if err != nil {
		return nil, err
	}
	cols, err := decodeColumns(payload)
	if err != nil {
		return nil, ledgerError(fnGetEndorsements, err)
	}
	records, err := Normalize(cols, c.gatewayHost)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Endorsee = normalized
	}
	return records, nil
}

// QueryByCategory returns every record whose occupation equals category exactly.
func (c *LedgerClient) QueryByCategory(ctx context.Context, sess *Session, category string) ([]EndorsementRecord, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	if strings.TrimSpace(category) == "" {
		return nil, invalid("occupation", "must not be empty")
	}
	payload, err := c.evaluate(ctx, sess.Manager, fnGetEndorsementsByOccupation, category)
	if err != nil {
		return nil, err
	}
	// Initialize as empty slice, not nil
	docs := []*model.Endorsement{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &docs); err != nil {
			return nil, ledgerError(fnGetEndorsementsByOccupation, fmt.Errorf("decode endorsements: %w", err))
		}
	}
	records := make([]EndorsementRecord, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		records = append(records, fromDocument(d, c.gatewayHost))
	}
	return records, nil
}

// GetValidators returns the authoritative validator allowlist.
func (c *LedgerClient) GetValidators(ctx context.Context, sess *Session) ([]string, error) {
	if err := requireSession(sess); err != nil {
		return nil, err
	}
	payload, err := c.evaluate(ctx, sess.Manager, fnGetValidators)
	if err != nil {
		return nil, err
	}
	validators := []string{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &validators); err != nil {
			return nil, ledgerError(fnGetValidators, fmt.Errorf("decode validators: %w", err))
		}
	}
	if validators == nil {
		validators = []string{}
	}
	return validators, nil
}

// GetOwner returns the owner account, or "" before InitLedger.
func (c *LedgerClient) GetOwner(ctx context.Context, sess *Session) (string, error) {
	if err := requireSession(sess); err != nil {
		return "", err
	}
	payload, err := c.evaluate(ctx, sess.Manager, fnGetOwner)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(payload)), nil
}

// Balance is a token amount in base units and in whole tokens.
type Balance struct {
	Account   string `json:"account"`
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
	Symbol    string `json:"symbol"`
}

// BalanceOf reads the reward token balance of holder.
func (c *LedgerClient) BalanceOf(ctx context.Context, sess *Session, holder string) (*Balance, error) {
	if sess == nil || sess.Token == nil {
		return nil, ErrNoSession
	}
	normalized, err := normalizeSubject("account", holder)
	if err != nil {
		return nil, err
	}
	payload, err := c.evaluate(ctx, sess.Token, fnBalanceOf, normalized)
	if err != nil {
		return nil, err
	}
	raw, ok := new(big.Int).SetString(strings.TrimSpace(string(payload)), 10)
	if !ok {
		return nil, ledgerError(fnBalanceOf, fmt.Errorf("malformed balance %q", string(payload)))
	}
	return &Balance{
		Account:   normalized,
		Raw:       raw.String(),
		Formatted: FormatUnits(raw, TokenDecimals),
		Symbol:    "RGT",
	}, nil
}

func (c *LedgerClient) evaluate(ctx context.Context, t Transactor, op string, args ...string) (payload []byte, err error) {
	start := time.Now()
	defer func() { c.metrics.observeLedger(op, start, err) }()

	payload, err = t.Evaluate(ctx, op, args...)
	if err != nil {
		return nil, ledgerError(op, err)
	}
	return payload, nil
}

// FormatUnits renders a base-unit amount with the given number of decimals,
// dropping trailing fractional zeros.
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(new(big.Int).Abs(amount), unit, new(big.Int))
	sign := ""
	if amount.Sign() < 0 {
		sign = "-"
	}
	if frac.Sign() == 0 {
		return sign + whole.String()
	}
	fracStr := frac.String()
	fracStr = strings.Repeat("0", decimals-len(fracStr)) + fracStr
	return sign + whole.String() + "." + strings.TrimRight(fracStr, "0")
}
