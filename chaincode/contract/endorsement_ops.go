package contract

import (
	"encoding/json"
	"fmt"

	"skillendorse/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Filing and Validation ---

// FileEndorsement appends an endorsement to the endorsee's list and credits the
// filing reward to the caller. Any identity may file.
func (s *EndorsementContract) FileEndorsement(ctx contractapi.TransactionContextInterface,
	endorsee string, endorserName string, endorseeName string, location string, occupation string,
	phoneNumber string, reason string, attachmentRef string, review int) (*model.Endorsement, error) {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("FileEndorsement: failed to get actor info: %w", err)
	}
	logger.Infof("Chaincode Call: FileEndorsement by '%s' for endorsee '%s' (occupation '%s')", actor.account, endorsee, occupation)

	subject, err := s.validateAccount(endorsee, "endorsee")
	if err != nil {
		return nil, err
	}
	required := []struct{ value, field string }{
		{endorserName, "endorserName"},
		{endorseeName, "endorseeName"},
		{location, "location"},
		{occupation, "occupation"},
		{phoneNumber, "phoneNumber"},
	}
	for _, r := range required {
		if err := s.validateRequiredString(r.value, r.field, maxStringInputLength); err != nil {
			return nil, err
		}
	}
	if err := s.validateRequiredString(reason, "reason", maxReasonLength); err != nil {
		return nil, err
	}
	if err := s.validateOptionalString(attachmentRef, "attachmentRef", maxAttachmentRefLen); err != nil {
		return nil, err
	}
	if err := validateAttachmentRef(attachmentRef); err != nil {
		return nil, err
	}
	if err := validateReview(review); err != nil {
		return nil, err
	}

	index, err := s.getEndorsementCount(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("FileEndorsement: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("FileEndorsement: %w", err)
	}

	endorsement := &model.Endorsement{
		ObjectType:    endorsementObjectType,
		Endorser:      actor.account,
		Endorsee:      subject,
		Index:         index,
		EndorserName:  endorserName,
		EndorseeName:  endorseeName,
		Location:      location,
		Occupation:    occupation,
		PhoneNumber:   phoneNumber,
		Reason:        reason,
		AttachmentRef: attachmentRef,
		Review:        review,
		Timestamp:     now,
		FilingTxID:    ctx.GetStub().GetTxID(),
	}
	if err := s.putEndorsement(ctx, endorsement); err != nil {
		return nil, fmt.Errorf("FileEndorsement: %w", err)
	}
	if err := s.putEndorsementCount(ctx, subject, index+1); err != nil {
		return nil, fmt.Errorf("FileEndorsement: failed to update count for '%s': %w", subject, err)
	}

	occKey, err := s.createOccupationIndexKey(ctx, occupation, subject, index)
	if err != nil {
		return nil, fmt.Errorf("FileEndorsement: failed to create occupation index key: %w", err)
	}
	if err := ctx.GetStub().PutState(occKey, []byte{0x00}); err != nil {
		return nil, fmt.Errorf("FileEndorsement: failed to save occupation index: %w", err)
	}

	if err := mint(ctx, actor.account, FilingReward()); err != nil {
		return nil, fmt.Errorf("FileEndorsement: failed to mint filing reward: %w", err)
	}

	s.emitEndorsementEvent(ctx, EventEndorsementFiled, endorsement, actor)
	logger.Infof("Endorsement %s/%d filed by '%s'", subject, index, actor.account)
	return endorsement, nil
}

// ValidateEndorsement marks the endorsement (endorsee, index) as validated and
// credits the validation reward. Only validators and the owner may call it,
// and a record can be validated once.
func (s *EndorsementContract) ValidateEndorsement(ctx contractapi.TransactionContextInterface, endorsee string, index int) (*model.Endorsement, error) {
	logger.Infof("Chaincode Call: ValidateEndorsement for %s/%d", endorsee, index)
	vm := NewValidatorManager(ctx)
	caller, err := vm.RequireValidator()
	if err != nil {
		return nil, err
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("ValidateEndorsement: failed to get actor info: %w", err)
	}

	subject, err := s.validateAccount(endorsee, "endorsee")
	if err != nil {
		return nil, err
	}
	endorsement, err := s.getEndorsement(ctx, subject, index)
	if err != nil {
		return nil, fmt.Errorf("ValidateEndorsement: %w", err)
	}
	if endorsement.Validated {
		return nil, fmt.Errorf("endorsement %s/%d is already validated by '%s'", subject, index, endorsement.ValidatedBy)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("ValidateEndorsement: %w", err)
	}
	endorsement.Validated = true
	endorsement.ValidatedBy = caller
	endorsement.ValidatedAt = now
	if err := s.putEndorsement(ctx, endorsement); err != nil {
		return nil, fmt.Errorf("ValidateEndorsement: %w", err)
	}

	if err := mint(ctx, caller, ValidateReward()); err != nil {
		return nil, fmt.Errorf("ValidateEndorsement: failed to mint validation reward: %w", err)
	}

	s.emitEndorsementEvent(ctx, EventEndorsementValidated, endorsement, actor)
	logger.Infof("Endorsement %s/%d validated by '%s'", subject, index, caller)
	return endorsement, nil
}

// getEndorsement loads one endorsement by its address.
func (s *EndorsementContract) getEndorsement(ctx contractapi.TransactionContextInterface, endorsee string, index int) (*model.Endorsement, error) {
	key, err := s.createEndorsementCompositeKey(ctx, endorsee, index)
	if err != nil {
		return nil, err
	}
	eBytes, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read endorsement %s/%d: %w", endorsee, index, err)
	}
	if eBytes == nil {
		return nil, fmt.Errorf("endorsement %s/%d does not exist", endorsee, index)
	}
	var e model.Endorsement
	if err := json.Unmarshal(eBytes, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal endorsement %s/%d: %w", endorsee, index, err)
	}
	return &e, nil
}
