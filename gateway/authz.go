package gateway

import (
	"context"
	"strings"
)

// IsOwner reports whether identity is the owner, ignoring case. An empty
// identity or owner never matches.
func IsOwner(identity, owner string) bool {
	identity = strings.TrimSpace(identity)
	owner = strings.TrimSpace(owner)
	if identity == "" || owner == "" {
		return false
	}
	return strings.EqualFold(identity, owner)
}

// IsAuthorizedValidator reports whether identity is the owner or a member of
// validatorSet, ignoring case. The answer is advisory: the ledger re-checks
// every mutation.
func IsAuthorizedValidator(identity string, validatorSet []string, owner string) bool {
	if IsOwner(identity, owner) {
		return true
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return false
	}
	for _, v := range validatorSet {
		if strings.EqualFold(identity, strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

// CanValidate applies IsAuthorizedValidator to a resolved set.
func (vs ValidatorSet) CanValidate(identity string) bool {
	return IsAuthorizedValidator(identity, vs.Validators, vs.Owner)
}

// IsOwner applies IsOwner to a resolved set.
func (vs ValidatorSet) IsOwner(identity string) bool {
	return IsOwner(identity, vs.Owner)
}

// Gate resolves the authoritative validator set from the ledger.
type Gate struct {
	client *LedgerClient
}

// NewGate returns a gate reading through client.
func NewGate(client *LedgerClient) *Gate {
	return &Gate{client: client}
}

// Resolve reads the validator allowlist and the owner. On any read failure
// it returns an empty set, which denies everything, together with the error.
func (g *Gate) Resolve(ctx context.Context, sess *Session) (ValidatorSet, error) {
	empty := ValidatorSet{Validators: []string{}}
	validators, err := g.client.GetValidators(ctx, sess)
	if err != nil {
		logger.Warningf("Gate: failed to read validators, denying: %v", err)
		return empty, err
	}
	owner, err := g.client.GetOwner(ctx, sess)
	if err != nil {
		logger.Warningf("Gate: failed to read owner, denying: %v", err)
		return empty, err
	}
	return ValidatorSet{Owner: owner, Validators: validators}, nil
}
