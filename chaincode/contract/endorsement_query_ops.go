package contract

import (
	"encoding/json"
	"fmt"

	"skillendorse/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Query Operations ---

// GetEndorsements returns every endorsement filed under the endorsee as
// parallel columns, row i being the endorsement with index i.
func (s *EndorsementContract) GetEndorsements(ctx contractapi.TransactionContextInterface, endorsee string) (*model.EndorsementColumns, error) {
	logger.Debugf("Chaincode Call: GetEndorsements for '%s'", endorsee)
	subject, err := s.validateAccount(endorsee, "endorsee")
	if err != nil {
		return nil, err
	}
	count, err := s.getEndorsementCount(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("GetEndorsements: %w", err)
	}

	columns := model.NewEndorsementColumns(count)
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(endorsementObjectType, []string{subject})
	if err != nil {
		return nil, fmt.Errorf("GetEndorsements: failed to get iterator for '%s': %w", subject, err)
	}
	defer resultsIterator.Close()

	expected := 0
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			return nil, fmt.Errorf("GetEndorsements: failed to read next endorsement: %w", iterErr)
		}
		var e model.Endorsement
		if err := json.Unmarshal(queryResponse.Value, &e); err != nil {
			return nil, fmt.Errorf("GetEndorsements: failed to unmarshal endorsement at key '%s': %w", queryResponse.Key, err)
		}
		// Keys sort by zero-padded index, so a gap means corrupted state.
		if e.Index != expected {
			return nil, fmt.Errorf("GetEndorsements: endorsement index gap for '%s': expected %d, found %d", subject, expected, e.Index)
		}
		columns.Append(&e)
		expected++
	}
	if expected != count {
		return nil, fmt.Errorf("GetEndorsements: count for '%s' is %d but %d endorsements are stored", subject, count, expected)
	}
	return columns, nil
}

// GetEndorsementsByOccupation returns, as rows, every endorsement whose
// occupation equals the argument exactly.
func (s *EndorsementContract) GetEndorsementsByOccupation(ctx contractapi.TransactionContextInterface, occupation string) ([]*model.Endorsement, error) {
	logger.Debugf("Chaincode Call: GetEndorsementsByOccupation for '%s'", occupation)
	if err := s.validateRequiredString(occupation, "occupation", maxStringInputLength); err != nil {
		return nil, err
	}
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(occupationIndexObjectType, []string{occupation})
	if err != nil {
		return nil, fmt.Errorf("GetEndorsementsByOccupation: failed to get iterator for '%s': %w", occupation, err)
	}
	defer resultsIterator.Close()

	// Initialize as empty slice, not nil
	endorsements := []*model.Endorsement{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			return nil, fmt.Errorf("GetEndorsementsByOccupation: failed to read next index entry: %w", iterErr)
		}
		_, attrs, err := ctx.GetStub().SplitCompositeKey(queryResponse.Key)
		if err != nil || len(attrs) != 3 {
			logger.Warningf("GetEndorsementsByOccupation: skipping malformed index key '%s'", queryResponse.Key)
			continue
		}
		var index int
		if _, err := fmt.Sscanf(attrs[2], "%d", &index); err != nil {
			logger.Warningf("GetEndorsementsByOccupation: skipping index key '%s' with bad index: %v", queryResponse.Key, err)
			continue
		}
		e, err := s.getEndorsement(ctx, attrs[1], index)
		if err != nil {
			return nil, fmt.Errorf("GetEndorsementsByOccupation: %w", err)
		}
		endorsements = append(endorsements, e)
	}
	return endorsements, nil
}

// GetEndorsementCount returns the number of endorsements filed under the endorsee.
func (s *EndorsementContract) GetEndorsementCount(ctx contractapi.TransactionContextInterface, endorsee string) (int, error) {
	subject, err := s.validateAccount(endorsee, "endorsee")
	if err != nil {
		return 0, err
	}
	return s.getEndorsementCount(ctx, subject)
}

// GetEndorsement returns a single endorsement by endorsee and index.
func (s *EndorsementContract) GetEndorsement(ctx contractapi.TransactionContextInterface, endorsee string, index int) (*model.Endorsement, error) {
	subject, err := s.validateAccount(endorsee, "endorsee")
	if err != nil {
		return nil, err
	}
	return s.getEndorsement(ctx, subject, index)
}
