package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"skillendorse/account"
	"skillendorse/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Core Helper Methods (used across multiple operations) ---

// getCurrentTxTimestamp retrieves the current transaction timestamp, in seconds, from the stub.
func (s *EndorsementContract) getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (int64, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return 0, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.GetSeconds(), nil
}

// getCurrentActorInfo resolves the invoker's account, X.509 ID and MSP.
func (s *EndorsementContract) getCurrentActorInfo(ctx contractapi.TransactionContextInterface) (*actorInfo, error) {
	callerAccount, err := NewValidatorManager(ctx).GetCurrentAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's account: %w", err)
	}
	fullID, err := ctx.GetClientIdentity().GetID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's ID: %w", err)
	}
	mspID, err := ctx.GetClientIdentity().GetMSPID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's MSPID: %w", err)
	}
	return &actorInfo{account: callerAccount, fullID: fullID, mspID: mspID}, nil
}

// --- Key Creation Helpers (using Composite Keys) ---

func formatIndex(index int) string {
	return fmt.Sprintf(indexKeyFormat, index)
}

func (s *EndorsementContract) createEndorsementCompositeKey(ctx contractapi.TransactionContextInterface, endorsee string, index int) (string, error) {
	if index < 0 {
		return "", fmt.Errorf("index %d cannot be negative", index)
	}
	return ctx.GetStub().CreateCompositeKey(endorsementObjectType, []string{endorsee, formatIndex(index)})
}

func (s *EndorsementContract) createCountCompositeKey(ctx contractapi.TransactionContextInterface, endorsee string) (string, error) {
	return ctx.GetStub().CreateCompositeKey(endorsementCountObjectType, []string{endorsee})
}

func (s *EndorsementContract) createOccupationIndexKey(ctx contractapi.TransactionContextInterface, occupation, endorsee string, index int) (string, error) {
	return ctx.GetStub().CreateCompositeKey(occupationIndexObjectType, []string{occupation, endorsee, formatIndex(index)})
}

// getEndorsementCount returns how many endorsements the endorsee has. Missing means zero.
func (s *EndorsementContract) getEndorsementCount(ctx contractapi.TransactionContextInterface, endorsee string) (int, error) {
	countKey, err := s.createCountCompositeKey(ctx, endorsee)
	if err != nil {
		return 0, fmt.Errorf("failed to create count key for '%s': %w", endorsee, err)
	}
	countBytes, err := ctx.GetStub().GetState(countKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read endorsement count for '%s': %w", endorsee, err)
	}
	if countBytes == nil {
		return 0, nil
	}
	count, err := strconv.Atoi(string(countBytes))
	if err != nil {
		return 0, fmt.Errorf("corrupt endorsement count for '%s': %w", endorsee, err)
	}
	return count, nil
}

func (s *EndorsementContract) putEndorsementCount(ctx contractapi.TransactionContextInterface, endorsee string, count int) error {
	countKey, err := s.createCountCompositeKey(ctx, endorsee)
	if err != nil {
		return fmt.Errorf("failed to create count key for '%s': %w", endorsee, err)
	}
	return ctx.GetStub().PutState(countKey, []byte(strconv.Itoa(count)))
}

func (s *EndorsementContract) putEndorsement(ctx contractapi.TransactionContextInterface, e *model.Endorsement) error {
	key, err := s.createEndorsementCompositeKey(ctx, e.Endorsee, e.Index)
	if err != nil {
		return fmt.Errorf("failed to create key for endorsement %s/%d: %w", e.Endorsee, e.Index, err)
	}
	eBytes, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal endorsement %s/%d: %w", e.Endorsee, e.Index, err)
	}
	if err := ctx.GetStub().PutState(key, eBytes); err != nil {
		return fmt.Errorf("failed to save endorsement %s/%d: %w", e.Endorsee, e.Index, err)
	}
	return nil
}

// --- Validation Helper Functions ---

func (s *EndorsementContract) validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *EndorsementContract) validateOptionalString(input, field string, max int) error {
	if input != "" && len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *EndorsementContract) validateAccount(input, field string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", fmt.Errorf("%s cannot be empty", field)
	}
	normalized, err := account.Normalize(input)
	if err != nil {
		return "", fmt.Errorf("%s: %w", field, err)
	}
	return normalized, nil
}

func validateReview(review int) error {
	if review < 0 || review > model.MaxReview {
		return fmt.Errorf("review must be between 0 and %d, got %d", model.MaxReview, review)
	}
	return nil
}

func validateAttachmentRef(ref string) error {
	if ref == "" {
		return nil
	}
	if !strings.HasPrefix(ref, "ipfs://") || len(ref) == len("ipfs://") {
		return errors.New("attachmentRef must be empty or of the form ipfs://<cid>")
	}
	return nil
}

// --- Events ---

// emitEndorsementEvent sends a chaincode event for an endorsement state change.
func (s *EndorsementContract) emitEndorsementEvent(ctx contractapi.TransactionContextInterface, eventName string, e *model.Endorsement, actor *actorInfo) {
	if e == nil || actor == nil {
		logger.Errorf("emitEndorsementEvent: cannot emit event, endorsement or actor is nil. Event: %s", eventName)
		return
	}
	payload := map[string]interface{}{
		"endorsee":             e.Endorsee,
		"index":                e.Index,
		"endorser":             e.Endorser,
		"occupation":           e.Occupation,
		"validated":            e.Validated,
		"actorAccount":         actor.account,
		"transactionTimestamp": time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339),
	}
	if e.Validated {
		payload["validatedBy"] = e.ValidatedBy
		payload["transactionTimestamp"] = time.Unix(e.ValidatedAt, 0).UTC().Format(time.RFC3339)
	}
	s.setEvent(ctx, eventName, payload)
}

func (s *EndorsementContract) emitValidatorEvent(ctx contractapi.TransactionContextInterface, eventName, validatorAccount, ownerAccount string) {
	s.setEvent(ctx, eventName, map[string]interface{}{
		"validator": validatorAccount,
		"owner":     ownerAccount,
	})
}

func (s *EndorsementContract) setEvent(ctx contractapi.TransactionContextInterface, eventName string, payload map[string]interface{}) {
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("setEvent: Failed to marshal event payload for event '%s': %v", eventName, err)
		return
	}
	if errSet := ctx.GetStub().SetEvent(eventName, eventBytes); errSet != nil {
		logger.Warningf("setEvent: Failed to set event '%s': %v", eventName, errSet)
	}
}
