package contract

import (
	"fmt"

	"skillendorse/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("skillendorse.endorsementcontract")

// Object types used for composite keys and as the 'objectType' of stored documents.
const (
	endorsementObjectType      = "Endorsement"      // Attributes: endorsee, zero-padded index
	endorsementCountObjectType = "EndorsementCount" // Attributes: endorsee
	occupationIndexObjectType  = "OccupationIndex"  // Attributes: occupation, endorsee, zero-padded index
)

// Constants for input validation and limits
const (
	maxStringInputLength = 256
	maxReasonLength      = 1024
	maxAttachmentRefLen  = 512
	indexKeyFormat       = "%010d" // Keeps composite-key order equal to index order
)

// Event names emitted by the endorsement contract.
const (
	EventEndorsementFiled     = "EndorsementFiled"
	EventEndorsementValidated = "EndorsementValidated"
	EventValidatorAdded       = "ValidatorAdded"
	EventValidatorRemoved     = "ValidatorRemoved"
	EventLedgerInitialized    = "LedgerInitialized"
)

// EndorsementContract stores skill endorsements per endorsee, tracks the
// validator allowlist and its owner, and mints rewards through the token ledger.
// @contract:EndorsementContract
type EndorsementContract struct {
	contractapi.Contract
}

// actorInfo holds commonly needed details about the transaction invoker.
type actorInfo struct {
	account string
	fullID  string
	mspID   string
}

// Instantiate is called during chaincode instantiation.
// It's a lifecycle method of the contract.
func (s *EndorsementContract) Instantiate(ctx contractapi.TransactionContextInterface) {
	logger.Info("EndorsementContract Instantiated/Upgraded")
}

// --- Validator Management Wrappers (Delegating to ValidatorManager) ---

// AddValidator grants the validator role. Only the owner may call it.
func (s *EndorsementContract) AddValidator(ctx contractapi.TransactionContextInterface, validatorAccount string) error {
	logger.Infof("Chaincode Call: AddValidator for '%s'", validatorAccount)
	vm := NewValidatorManager(ctx)
	info, err := vm.AddValidator(validatorAccount)
	if err != nil {
		return err
	}
	s.emitValidatorEvent(ctx, EventValidatorAdded, info.Account, info.AddedBy)
	return nil
}

// RemoveValidator revokes the validator role. Only the owner may call it.
func (s *EndorsementContract) RemoveValidator(ctx contractapi.TransactionContextInterface, validatorAccount string) error {
	logger.Infof("Chaincode Call: RemoveValidator for '%s'", validatorAccount)
	vm := NewValidatorManager(ctx)
	removed, caller, err := vm.RemoveValidator(validatorAccount)
	if err != nil {
		return err
	}
	s.emitValidatorEvent(ctx, EventValidatorRemoved, removed, caller)
	return nil
}

// GetValidators returns the authoritative validator allowlist, sorted.
func (s *EndorsementContract) GetValidators(ctx contractapi.TransactionContextInterface) ([]string, error) {
	logger.Debug("Chaincode Call: GetValidators (public access)")
	return NewValidatorManager(ctx).GetValidators()
}

// IsValidator reports whether the account holds the validator role.
func (s *EndorsementContract) IsValidator(ctx contractapi.TransactionContextInterface, validatorAccount string) (bool, error) {
	logger.Debugf("Chaincode Call: IsValidator for '%s'", validatorAccount)
	return NewValidatorManager(ctx).IsValidator(validatorAccount)
}

// GetOwner returns the owner account, or an empty string before InitLedger.
func (s *EndorsementContract) GetOwner(ctx contractapi.TransactionContextInterface) (string, error) {
	logger.Debug("Chaincode Call: GetOwner (public access)")
	return NewValidatorManager(ctx).GetOwner()
}

// GetLedgerInfo summarizes the owner, validators and reward amounts.
func (s *EndorsementContract) GetLedgerInfo(ctx contractapi.TransactionContextInterface) (*model.LedgerInfo, error) {
	logger.Debug("Chaincode Call: GetLedgerInfo (public access)")
	vm := NewValidatorManager(ctx)
	owner, err := vm.GetOwner()
	if err != nil {
		return nil, fmt.Errorf("GetLedgerInfo: %w", err)
	}
	validators, err := vm.GetValidators()
	if err != nil {
		return nil, fmt.Errorf("GetLedgerInfo: %w", err)
	}
	return &model.LedgerInfo{
		Owner:          owner,
		Validators:     validators,
		FilingReward:   FilingReward().String(),
		ValidateReward: ValidateReward().String(),
	}, nil
}

// NewChaincode bundles the endorsement and token contracts into one chaincode.
// EndorsementContract is the default, so unqualified function names resolve to it.
func NewChaincode() (*contractapi.ContractChaincode, error) {
	cc, err := contractapi.NewChaincode(&EndorsementContract{}, &TokenContract{})
	if err != nil {
		return nil, err
	}
	cc.Info.Title = "skillendorse"
	cc.Info.Version = "1.0.0"
	return cc, nil
}
