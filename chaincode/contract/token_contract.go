package contract

import (
	"errors"
	"fmt"
	"math/big"

	"skillendorse/account"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var tokenLogger = flogging.MustGetLogger("skillendorse.tokencontract")

const (
	tokenBalanceObjectType = "TokenBalance" // Attributes: account
	tokenSupplyObjectType  = "TokenSupply"  // No attributes

	TokenName     = "RGUKT Taluka Token"
	TokenSymbol   = "RGT"
	TokenDecimals = 18

	filingRewardTokens   = 10
	validateRewardTokens = 5
)

// TokenContract is the companion reward token. Balances are only ever
// increased by the endorsement contract; there is no transfer.
// @contract:TokenContract
type TokenContract struct {
	contractapi.Contract
}

func tokenUnit() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(TokenDecimals), nil)
}

// FilingReward is the amount, in base units, credited to an endorser per filed endorsement.
func FilingReward() *big.Int {
	return new(big.Int).Mul(big.NewInt(filingRewardTokens), tokenUnit())
}

// ValidateReward is the amount, in base units, credited to a validator per validation.
func ValidateReward() *big.Int {
	return new(big.Int).Mul(big.NewInt(validateRewardTokens), tokenUnit())
}

func (t *TokenContract) Name(ctx contractapi.TransactionContextInterface) string {
	return TokenName
}

func (t *TokenContract) Symbol(ctx contractapi.TransactionContextInterface) string {
	return TokenSymbol
}

func (t *TokenContract) Decimals(ctx contractapi.TransactionContextInterface) int {
	return TokenDecimals
}

// TotalSupply returns the minted supply in base units as a decimal string.
func (t *TokenContract) TotalSupply(ctx contractapi.TransactionContextInterface) (string, error) {
	supply, err := readAmount(ctx, tokenSupplyObjectType, []string{})
	if err != nil {
		return "", fmt.Errorf("TotalSupply: %w", err)
	}
	return supply.String(), nil
}

// BalanceOf returns the account's balance in base units as a decimal string.
func (t *TokenContract) BalanceOf(ctx contractapi.TransactionContextInterface, holder string) (string, error) {
	tokenLogger.Debugf("Chaincode Call: BalanceOf for '%s'", holder)
	normalized, err := account.Normalize(holder)
	if err != nil {
		return "", fmt.Errorf("BalanceOf: %w", err)
	}
	balance, err := readAmount(ctx, tokenBalanceObjectType, []string{normalized})
	if err != nil {
		return "", fmt.Errorf("BalanceOf: %w", err)
	}
	return balance.String(), nil
}

// --- Minting (internal to the chaincode) ---

func readAmount(ctx contractapi.TransactionContextInterface, objectType string, attrs []string) (*big.Int, error) {
	key, err := ctx.GetStub().CreateCompositeKey(objectType, attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s key: %w", objectType, err)
	}
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", objectType, err)
	}
	if raw == nil {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("corrupt %s value %q", objectType, string(raw))
	}
	return amount, nil
}

func writeAmount(ctx contractapi.TransactionContextInterface, objectType string, attrs []string, amount *big.Int) error {
	key, err := ctx.GetStub().CreateCompositeKey(objectType, attrs)
	if err != nil {
		return fmt.Errorf("failed to create %s key: %w", objectType, err)
	}
	return ctx.GetStub().PutState(key, []byte(amount.String()))
}

// mint credits amount to the recipient and grows the total supply.
func mint(ctx contractapi.TransactionContextInterface, recipient string, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return errors.New("mint amount must be positive")
	}
	balance, err := readAmount(ctx, tokenBalanceObjectType, []string{recipient})
	if err != nil {
		return err
	}
	supply, err := readAmount(ctx, tokenSupplyObjectType, []string{})
	if err != nil {
		return err
	}
	if err := writeAmount(ctx, tokenBalanceObjectType, []string{recipient}, balance.Add(balance, amount)); err != nil {
		return fmt.Errorf("failed to credit '%s': %w", recipient, err)
	}
	if err := writeAmount(ctx, tokenSupplyObjectType, []string{}, supply.Add(supply, amount)); err != nil {
		return fmt.Errorf("failed to update token supply: %w", err)
	}
	tokenLogger.Infof("Minted %s base units to '%s'", amount.String(), recipient)
	return nil
}
