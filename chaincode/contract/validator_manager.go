package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"skillendorse/account"
	"skillendorse/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var vmLogger = flogging.MustGetLogger("skillendorse.validatormanager")

// Object types for composite keys, also usable as 'docType' or 'objectType' in CouchDB.
const (
	validatorObjectType = "Validator" // Stores ValidatorInfo objects. Attribute for composite key: account.
	ownerObjectType     = "Owner"     // Stores the owner account. No attributes.
)

// ErrNotInitialized is returned by owner-gated operations before InitLedger ran.
var ErrNotInitialized = errors.New("ledger has no owner yet; InitLedger must run first")

// ValidatorManager handles the owner account and the validator allowlist.
type ValidatorManager struct {
	Ctx contractapi.TransactionContextInterface
}

// NewValidatorManager creates a new instance of ValidatorManager.
func NewValidatorManager(ctx contractapi.TransactionContextInterface) *ValidatorManager {
	return &ValidatorManager{Ctx: ctx}
}

// --- Internal Helper Functions ---

func (vm *ValidatorManager) getCurrentTxTimestamp() (int64, error) {
	ts, err := vm.Ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return 0, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.GetSeconds(), nil
}

func (vm *ValidatorManager) createValidatorCompositeKey(validatorAccount string) (string, error) {
	return vm.Ctx.GetStub().CreateCompositeKey(validatorObjectType, []string{validatorAccount})
}

func (vm *ValidatorManager) createOwnerCompositeKey() (string, error) {
	return vm.Ctx.GetStub().CreateCompositeKey(ownerObjectType, []string{})
}

// --- Caller Identity ---

// GetCurrentAccount derives the caller's account address from its X.509 certificate.
func (vm *ValidatorManager) GetCurrentAccount() (string, error) {
	clientIdentity := vm.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return "", errors.New("client identity is nil from context")
	}
	cert, err := clientIdentity.GetX509Certificate()
	if err != nil {
		return "", fmt.Errorf("failed to get client certificate from context: %w", err)
	}
	if cert == nil {
		return "", errors.New("client identity carries no X.509 certificate")
	}
	return account.FromCertificate(cert)
}

// --- Owner ---

// GetOwner returns the owner account, or "" when the ledger is not initialized.
func (vm *ValidatorManager) GetOwner() (string, error) {
	ownerKey, err := vm.createOwnerCompositeKey()
	if err != nil {
		return "", fmt.Errorf("failed to create owner key: %w", err)
	}
	ownerBytes, err := vm.Ctx.GetStub().GetState(ownerKey)
	if err != nil {
		return "", fmt.Errorf("ledger error reading owner: %w", err)
	}
	return string(ownerBytes), nil
}

// SetOwner records the owner. It refuses to overwrite an existing owner.
func (vm *ValidatorManager) SetOwner(ownerAccount string) error {
	existing, err := vm.GetOwner()
	if err != nil {
		return err
	}
	if existing != "" {
		return fmt.Errorf("ledger already initialized with owner '%s'", existing)
	}
	ownerKey, err := vm.createOwnerCompositeKey()
	if err != nil {
		return fmt.Errorf("failed to create owner key: %w", err)
	}
	if err := vm.Ctx.GetStub().PutState(ownerKey, []byte(ownerAccount)); err != nil {
		return fmt.Errorf("failed to save owner '%s': %w", ownerAccount, err)
	}
	vmLogger.Infof("Owner set to '%s'", ownerAccount)
	return nil
}

// IsOwner checks an account against the stored owner, ignoring case.
func (vm *ValidatorManager) IsOwner(candidate string) (bool, error) {
	owner, err := vm.GetOwner()
	if err != nil {
		return false, err
	}
	return account.Equal(owner, candidate), nil
}

// RequireOwner returns the caller's account if it is the owner.
func (vm *ValidatorManager) RequireOwner() (string, error) {
	caller, err := vm.GetCurrentAccount()
	if err != nil {
		return "", fmt.Errorf("failed to get caller account for owner check: %w", err)
	}
	owner, err := vm.GetOwner()
	if err != nil {
		return "", err
	}
	if owner == "" {
		return "", ErrNotInitialized
	}
	if !account.Equal(owner, caller) {
		return "", fmt.Errorf("unauthorized: caller '%s' is not the owner", caller)
	}
	return caller, nil
}

// --- Validators ---

// IsValidator reports whether the account is on the allowlist.
func (vm *ValidatorManager) IsValidator(validatorAccount string) (bool, error) {
	normalized, err := account.Normalize(validatorAccount)
	if err != nil {
		// A malformed account is simply not a validator.
		return false, nil
	}
	key, err := vm.createValidatorCompositeKey(normalized)
	if err != nil {
		return false, fmt.Errorf("failed to create validator key for IsValidator check on '%s': %w", normalized, err)
	}
	infoBytes, err := vm.Ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("ledger error checking validator '%s': %w", normalized, err)
	}
	return infoBytes != nil, nil
}

// RequireValidator returns the caller's account if it may validate endorsements.
// The owner passes without being on the allowlist.
func (vm *ValidatorManager) RequireValidator() (string, error) {
	caller, err := vm.GetCurrentAccount()
	if err != nil {
		return "", fmt.Errorf("failed to get caller account for validator check: %w", err)
	}
	isOwner, err := vm.IsOwner(caller)
	if err != nil {
		return "", err
	}
	if isOwner {
		vmLogger.Debugf("Owner '%s' authorized as validator (bypassed allowlist).", caller)
		return caller, nil
	}
	isValidator, err := vm.IsValidator(caller)
	if err != nil {
		return "", err
	}
	if !isValidator {
		return "", fmt.Errorf("unauthorized: caller '%s' is not a validator", caller)
	}
	return caller, nil
}

// AddValidator grants the role on behalf of the calling owner.
func (vm *ValidatorManager) AddValidator(validatorAccount string) (*model.ValidatorInfo, error) {
	caller, err := vm.RequireOwner()
	if err != nil {
		return nil, err
	}
	return vm.putValidator(validatorAccount, caller, false)
}

// seedValidator adds a bootstrap validator without an owner check. Only InitLedger uses it.
func (vm *ValidatorManager) seedValidator(validatorAccount, owner string) (*model.ValidatorInfo, error) {
	return vm.putValidator(validatorAccount, owner, true)
}

func (vm *ValidatorManager) putValidator(validatorAccount, addedBy string, bootstrap bool) (*model.ValidatorInfo, error) {
	normalized, err := account.Normalize(validatorAccount)
	if err != nil {
		return nil, err
	}
	key, err := vm.createValidatorCompositeKey(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to create validator composite key for '%s': %w", normalized, err)
	}
	existing, err := vm.Ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to check validator '%s': %w", normalized, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("account '%s' is already a validator", normalized)
	}

	now, err := vm.getCurrentTxTimestamp()
	if err != nil {
		return nil, err
	}
	info := &model.ValidatorInfo{
		ObjectType: validatorObjectType,
		Account:    normalized,
		AddedBy:    addedBy,
		AddedAt:    now,
		Bootstrap:  bootstrap,
	}
	infoBytes, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ValidatorInfo for '%s': %w", normalized, err)
	}
	if err := vm.Ctx.GetStub().PutState(key, infoBytes); err != nil {
		return nil, fmt.Errorf("failed to save ValidatorInfo for '%s': %w", normalized, err)
	}
	vmLogger.Infof("Validator '%s' added by '%s' (bootstrap=%t).", normalized, addedBy, bootstrap)
	return info, nil
}

// RemoveValidator revokes the role. It returns the removed account and the caller.
func (vm *ValidatorManager) RemoveValidator(validatorAccount string) (string, string, error) {
	caller, err := vm.RequireOwner()
	if err != nil {
		return "", "", err
	}
	normalized, err := account.Normalize(validatorAccount)
	if err != nil {
		return "", "", err
	}
	key, err := vm.createValidatorCompositeKey(normalized)
	if err != nil {
		return "", "", fmt.Errorf("failed to create validator composite key for '%s': %w", normalized, err)
	}
	existing, err := vm.Ctx.GetStub().GetState(key)
	if err != nil {
		return "", "", fmt.Errorf("failed to check validator '%s': %w", normalized, err)
	}
	if existing == nil {
		return "", "", fmt.Errorf("account '%s' is not a validator", normalized)
	}
	if err := vm.Ctx.GetStub().DelState(key); err != nil {
		return "", "", fmt.Errorf("failed to remove validator '%s': %w", normalized, err)
	}
	vmLogger.Infof("Validator '%s' removed by owner '%s'.", normalized, caller)
	return normalized, caller, nil
}

// GetValidators lists the allowlist in ascending address order.
func (vm *ValidatorManager) GetValidators() ([]string, error) {
	resultsIterator, err := vm.Ctx.GetStub().GetStateByPartialCompositeKey(validatorObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get validators iterator using objectType '%s': %w", validatorObjectType, err)
	}
	defer resultsIterator.Close()

	// Initialize as empty slice, not nil
	validators := []string{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			return nil, fmt.Errorf("failed to read next validator: %w", iterErr)
		}
		var info model.ValidatorInfo
		if err := json.Unmarshal(queryResponse.Value, &info); err != nil {
			vmLogger.Warningf("Failed to unmarshal validator data for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		validators = append(validators, strings.ToLower(info.Account))
	}
	sort.Strings(validators)
	return validators, nil
}
