package contract

import (
	"encoding/json"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Admin Operations ---

// InitLedger makes the caller the owner and seeds the validator allowlist
// from a JSON array of account addresses. It can run once.
func (s *EndorsementContract) InitLedger(ctx contractapi.TransactionContextInterface, bootstrapValidatorsJSON string) error {
	logger.Info("Chaincode Call: InitLedger")
	vm := NewValidatorManager(ctx)

	owner, err := vm.GetOwner()
	if err != nil {
		return fmt.Errorf("InitLedger: failed to check owner: %w", err)
	}
	if owner != "" {
		return fmt.Errorf("InitLedger: ledger already initialized with owner '%s'", owner)
	}

	// Initialize as empty slice, not nil
	bootstrap := []string{}
	if bootstrapValidatorsJSON != "" {
		if err := json.Unmarshal([]byte(bootstrapValidatorsJSON), &bootstrap); err != nil {
			return fmt.Errorf("InitLedger: bootstrapValidatorsJSON must be a JSON array of addresses: %w", err)
		}
	}

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("InitLedger: failed to get caller identity: %w", err)
	}
	if err := vm.SetOwner(actor.account); err != nil {
		return fmt.Errorf("InitLedger: %w", err)
	}

	seen := make(map[string]bool, len(bootstrap))
	for _, candidate := range bootstrap {
		normalized, err := s.validateAccount(candidate, "bootstrap validator")
		if err != nil {
			return fmt.Errorf("InitLedger: %w", err)
		}
		if seen[normalized] {
			logger.Warningf("InitLedger: duplicate bootstrap validator '%s' ignored", normalized)
			continue
		}
		seen[normalized] = true
		if _, err := vm.seedValidator(normalized, actor.account); err != nil {
			return fmt.Errorf("InitLedger: %w", err)
		}
	}

	s.setEvent(ctx, EventLedgerInitialized, map[string]interface{}{
		"owner":      actor.account,
		"validators": len(seen),
		"mspId":      actor.mspID,
	})
	logger.Infof("InitLedger: owner '%s' (%s) seeded %d validators", actor.account, actor.fullID, len(seen))
	return nil
}
