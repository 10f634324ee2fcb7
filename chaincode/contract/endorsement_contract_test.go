package contract_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"skillendorse/account"
	"skillendorse/chaincode/contract"
	"skillendorse/chaincode/model"
	"skillendorse/gateway"
	"skillendorse/ledgertest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ledger    *ledgertest.Ledger
	owner     *ledgertest.Wallet
	validator *ledgertest.Wallet
	filer     *ledgertest.Wallet
	subject   *ledgertest.Wallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    ledgertest.MustNew(),
		owner:     ledgertest.MustWallet("owner"),
		validator: ledgertest.MustWallet("validator"),
		filer:     ledgertest.MustWallet("filer"),
		subject:   ledgertest.MustWallet("subject"),
	}
	require.NoError(t, f.ledger.Init(f.owner, f.validator.Account))
	return f
}

func submit(t *testing.T, tr gateway.Transactor, fn string, args ...string) ([]byte, error) {
	t.Helper()
	pending, err := tr.Submit(context.Background(), fn, args...)
	if err != nil {
		return nil, err
	}
	receipt, err := pending.Confirm(context.Background())
	require.NoError(t, err)
	return receipt.Result, nil
}

func evaluate(t *testing.T, tr gateway.Transactor, fn string, args ...string) []byte {
	t.Helper()
	payload, err := tr.Evaluate(context.Background(), fn, args...)
	require.NoError(t, err)
	return payload
}

func (f *fixture) file(t *testing.T, w *ledgertest.Wallet, subject, occupation, review string) *model.Endorsement {
	t.Helper()
	mgr := f.ledger.Contract(w, ledgertest.ManagerContract)
	payload, err := submit(t, mgr, "FileEndorsement",
		subject, "Filer Name", "Subject Name", "Nuzvid", occupation, "+91 90000 00000",
		"Taught algebra for two years", "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", review)
	require.NoError(t, err)
	var e model.Endorsement
	require.NoError(t, json.Unmarshal(payload, &e))
	return &e
}

func TestInitLedgerRunsOnce(t *testing.T) {
	f := newFixture(t)
	mgr := f.ledger.Contract(f.owner, ledgertest.ManagerContract)

	assert.Equal(t, f.owner.Account, string(evaluate(t, mgr, "GetOwner")))

	var validators []string
	require.NoError(t, json.Unmarshal(evaluate(t, mgr, "GetValidators"), &validators))
	assert.Equal(t, []string{f.validator.Account}, validators)

	err := f.ledger.Init(f.filer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already initialized")
	assert.Equal(t, f.owner.Account, string(evaluate(t, mgr, "GetOwner")))
}

func TestInitLedgerRejectsMalformedBootstrap(t *testing.T) {
	l := ledgertest.MustNew()
	owner := ledgertest.MustWallet("owner")

	require.Error(t, l.Init(owner, "not-an-address"))

	// The failed call left no owner behind.
	mgr := l.Contract(owner, ledgertest.ManagerContract)
	assert.Empty(t, string(evaluate(t, mgr, "GetOwner")))
	require.NoError(t, l.Init(owner))
}

func TestFileEndorsementAppendsAndRewards(t *testing.T) {
	f := newFixture(t)

	first := f.file(t, f.filer, "0x"+strings.ToUpper(f.subject.Account[2:]), "Teacher", "4")
	second := f.file(t, f.filer, f.subject.Account, "Teacher", "0")

	assert.Equal(t, 0, first.Index)
	assert.Equal(t, 1, second.Index)
	assert.Equal(t, f.subject.Account, first.Endorsee, "endorsee is stored lowercase")
	assert.Equal(t, f.filer.Account, first.Endorser)
	assert.Equal(t, 4, first.Review)
	assert.False(t, first.Validated)
	assert.NotZero(t, first.Timestamp)
	assert.NotEmpty(t, first.FilingTxID)

	mgr := f.ledger.Contract(f.filer, ledgertest.ManagerContract)
	assert.Equal(t, "2", string(evaluate(t, mgr, "GetEndorsementCount", f.subject.Account)))

	token := f.ledger.Contract(f.filer, ledgertest.TokenContract)
	twenty := "20" + strings.Repeat("0", contract.TokenDecimals)
	assert.Equal(t, twenty, string(evaluate(t, token, "BalanceOf", f.filer.Account)))
	assert.Equal(t, twenty, string(evaluate(t, token, "TotalSupply")))
}

func TestFileEndorsementRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	mgr := f.ledger.Contract(f.filer, ledgertest.ManagerContract)

	cases := map[string][]string{
		"review above range": {f.subject.Account, "a", "b", "c", "Teacher", "p", "r", "", "6"},
		"negative review":    {f.subject.Account, "a", "b", "c", "Teacher", "p", "r", "", "-1"},
		"fractional review":  {f.subject.Account, "a", "b", "c", "Teacher", "p", "r", "", "4.5"},
		"empty name":         {f.subject.Account, "", "b", "c", "Teacher", "p", "r", "", "3"},
		"bad subject":        {"0x1234", "a", "b", "c", "Teacher", "p", "r", "", "3"},
		"bad attachment":     {f.subject.Account, "a", "b", "c", "Teacher", "p", "r", "https://x", "3"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := submit(t, mgr, "FileEndorsement", args...)
			require.Error(t, err)
		})
	}
	assert.Equal(t, "0", string(evaluate(t, mgr, "GetEndorsementCount", f.subject.Account)))
}

func TestGetEndorsementsColumnar(t *testing.T) {
	f := newFixture(t)
	mgr := f.ledger.Contract(f.filer, ledgertest.ManagerContract)

	var empty model.EndorsementColumns
	require.NoError(t, json.Unmarshal(evaluate(t, mgr, "GetEndorsements", f.subject.Account), &empty))
	assert.NotNil(t, empty.Endorsers)
	assert.Len(t, empty.Endorsers, 0)

	f.file(t, f.filer, f.subject.Account, "Teacher", "4")
	f.file(t, f.validator, f.subject.Account, "Farmer", "2")

	var cols model.EndorsementColumns
	require.NoError(t, json.Unmarshal(evaluate(t, mgr, "GetEndorsements", f.subject.Account), &cols))
	assert.Equal(t, []string{f.filer.Account, f.validator.Account}, cols.Endorsers)
	assert.Equal(t, []string{"Teacher", "Farmer"}, cols.Occupations)
	assert.Equal(t, []int{4, 2}, cols.Reviews)
	assert.Equal(t, []bool{false, false}, cols.Validated)
	assert.Len(t, cols.Timestamps, 2)
}

func TestGetEndorsementsByOccupationIsExact(t *testing.T) {
	f := newFixture(t)
	other := ledgertest.MustWallet("other")
	mgr := f.ledger.Contract(f.filer, ledgertest.ManagerContract)

	var none []*model.Endorsement
	require.NoError(t, json.Unmarshal(evaluate(t, mgr, "GetEndorsementsByOccupation", "Teacher"), &none))
	assert.NotNil(t, none)
	assert.Empty(t, none)

	f.file(t, f.filer, f.subject.Account, "Teacher", "4")
	f.file(t, f.filer, other.Account, "Teacher", "5")
	f.file(t, f.filer, other.Account, "teacher", "1")

	var rows []*model.Endorsement
	require.NoError(t, json.Unmarshal(evaluate(t, mgr, "GetEndorsementsByOccupation", "Teacher"), &rows))
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "Teacher", r.Occupation)
	}
}

func TestValidateEndorsement(t *testing.T) {
	f := newFixture(t)
	f.file(t, f.filer, f.subject.Account, "Teacher", "4")

	t.Run("non-validator is denied by the ledger", func(t *testing.T) {
		mgr := f.ledger.Contract(f.filer, ledgertest.ManagerContract)
		_, err := submit(t, mgr, "ValidateEndorsement", f.subject.Account, "0")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a validator")
	})

	t.Run("validator succeeds once", func(t *testing.T) {
		mgr := f.ledger.Contract(f.validator, ledgertest.ManagerContract)
		payload, err := submit(t, mgr, "ValidateEndorsement", f.subject.Account, "0")
		require.NoError(t, err)
		var e model.Endorsement
		require.NoError(t, json.Unmarshal(payload, &e))
		assert.True(t, e.Validated)
		assert.Equal(t, f.validator.Account, e.ValidatedBy)

		_, err = submit(t, mgr, "ValidateEndorsement", f.subject.Account, "0")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already validated")
	})

	t.Run("reward is credited exactly once", func(t *testing.T) {
		token := f.ledger.Contract(f.validator, ledgertest.TokenContract)
		five := "5" + strings.Repeat("0", contract.TokenDecimals)
		assert.Equal(t, five, string(evaluate(t, token, "BalanceOf", f.validator.Account)))
	})

	t.Run("missing record fails", func(t *testing.T) {
		mgr := f.ledger.Contract(f.validator, ledgertest.ManagerContract)
		_, err := submit(t, mgr, "ValidateEndorsement", f.subject.Account, "7")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})

	t.Run("owner may validate", func(t *testing.T) {
		f.file(t, f.filer, f.subject.Account, "Teacher", "3")
		mgr := f.ledger.Contract(f.owner, ledgertest.ManagerContract)
		_, err := submit(t, mgr, "ValidateEndorsement", f.subject.Account, "1")
		require.NoError(t, err)
	})
}

func TestValidatorAdministration(t *testing.T) {
	f := newFixture(t)
	newcomer := ledgertest.MustWallet("newcomer")

	t.Run("non-owner cannot grant", func(t *testing.T) {
		mgr := f.ledger.Contract(f.validator, ledgertest.ManagerContract)
		_, err := submit(t, mgr, "AddValidator", newcomer.Account)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not the owner")
	})

	ownerMgr := f.ledger.Contract(f.owner, ledgertest.ManagerContract)
	t.Run("owner grants with checksummed input", func(t *testing.T) {
		_, err := submit(t, ownerMgr, "AddValidator", account.Checksum(newcomer.Account))
		require.NoError(t, err)
		assert.Equal(t, "true", string(evaluate(t, ownerMgr, "IsValidator", newcomer.Account)))

		_, err = submit(t, ownerMgr, "AddValidator", newcomer.Account)
		require.Error(t, err, "granting twice fails")
	})

	t.Run("owner revokes", func(t *testing.T) {
		_, err := submit(t, ownerMgr, "RemoveValidator", newcomer.Account)
		require.NoError(t, err)
		assert.Equal(t, "false", string(evaluate(t, ownerMgr, "IsValidator", newcomer.Account)))
	})

	var names []string
	for _, ev := range f.ledger.Events() {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{
		contract.EventLedgerInitialized,
		contract.EventValidatorAdded,
		contract.EventValidatorRemoved,
	}, names)
}

func TestTokenMetadata(t *testing.T) {
	f := newFixture(t)
	token := f.ledger.Contract(f.filer, ledgertest.TokenContract)
	assert.Equal(t, contract.TokenName, string(evaluate(t, token, "Name")))
	assert.Equal(t, contract.TokenSymbol, string(evaluate(t, token, "Symbol")))
	assert.Equal(t, "18", string(evaluate(t, token, "Decimals")))
	assert.Equal(t, "0", string(evaluate(t, token, "BalanceOf", f.subject.Account)))
}

func TestGetLedgerInfo(t *testing.T) {
	f := newFixture(t)
	mgr := f.ledger.Contract(f.filer, ledgertest.ManagerContract)
	var info model.LedgerInfo
	require.NoError(t, json.Unmarshal(evaluate(t, mgr, "GetLedgerInfo"), &info))
	assert.Equal(t, f.owner.Account, info.Owner)
	assert.Equal(t, []string{f.validator.Account}, info.Validators)
	assert.Equal(t, contract.FilingReward().String(), info.FilingReward)
	assert.Equal(t, contract.ValidateReward().String(), info.ValidateReward)
}
