// File: model/identities.go
package model

// ValidatorInfo stores one account holding the validator role.
type ValidatorInfo struct {
	ObjectType string `json:"objectType"` // Set to the composite key object type (Validator)
	Account    string `json:"account"`    // Normalized (lowercase) account address
	AddedBy    string `json:"addedBy"`    // Owner account that granted the role
	AddedAt    int64  `json:"addedAt"`    // Transaction time of the grant, seconds since epoch
	Bootstrap  bool   `json:"bootstrap"`  // True when seeded by InitLedger rather than AddValidator
}

// LedgerInfo is the public summary of the endorsement ledger's governance state.
type LedgerInfo struct {
	Owner          string   `json:"owner"`
	Validators     []string `json:"validators"`
	FilingReward   string   `json:"filingReward"`   // Base units credited per filed endorsement
	ValidateReward string   `json:"validateReward"` // Base units credited per validation
}
