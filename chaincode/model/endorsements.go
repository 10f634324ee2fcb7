package model

// MaxReview is the highest review score an endorsement may carry. The lowest is 0.
const MaxReview = 5

// Endorsement is a single skill endorsement filed under an endorsee.
// (Endorsee, Index) is its only address; the document is append-only except
// for the one-way Validated transition.
type Endorsement struct {
	ObjectType    string `json:"objectType"` // Endorsement
	Endorser      string `json:"endorser"`   // Account that filed the endorsement
	Endorsee      string `json:"endorsee"`   // Subject account the endorsement is filed under
	Index         int    `json:"index"`      // Ordinal within the endorsee's list
	EndorserName  string `json:"endorserName"`
	EndorseeName  string `json:"endorseeName"`
	Location      string `json:"location"`
	Occupation    string `json:"occupation"` // Category key for GetEndorsementsByOccupation
	PhoneNumber   string `json:"phoneNumber"`
	Reason        string `json:"reason"`
	AttachmentRef string `json:"attachmentRef"` // ipfs://<cid>, may be empty
	Review        int    `json:"review"`        // 0..MaxReview
	Timestamp     int64  `json:"timestamp"`     // Filing transaction time, seconds since epoch
	Validated     bool   `json:"validated"`
	ValidatedBy   string `json:"validatedBy"` // Empty until validated
	ValidatedAt   int64  `json:"validatedAt"` // Zero until validated
	FilingTxID    string `json:"filingTxId"`
}

// EndorsementColumns is the columnar reply of GetEndorsements: element i of every
// slice belongs to the endorsement with Index i. All slices have equal length.
type EndorsementColumns struct {
	Endorsers      []string `json:"endorsers"`
	EndorserNames  []string `json:"endorserNames"`
	EndorseeNames  []string `json:"endorseeNames"`
	Locations      []string `json:"locations"`
	Occupations    []string `json:"occupations"`
	PhoneNumbers   []string `json:"phoneNumbers"`
	Reasons        []string `json:"reasons"`
	AttachmentRefs []string `json:"attachmentRefs"`
	Timestamps     []int64  `json:"timestamps"`
	Reviews        []int    `json:"reviews"`
	Validated      []bool   `json:"validated"`
}

// NewEndorsementColumns returns columns with every slice initialized, so an
// empty reply serializes as [] rather than null.
func NewEndorsementColumns(capacity int) *EndorsementColumns {
	return &EndorsementColumns{
		Endorsers:      make([]string, 0, capacity),
		EndorserNames:  make([]string, 0, capacity),
		EndorseeNames:  make([]string, 0, capacity),
		Locations:      make([]string, 0, capacity),
		Occupations:    make([]string, 0, capacity),
		PhoneNumbers:   make([]string, 0, capacity),
		Reasons:        make([]string, 0, capacity),
		AttachmentRefs: make([]string, 0, capacity),
		Timestamps:     make([]int64, 0, capacity),
		Reviews:        make([]int, 0, capacity),
		Validated:      make([]bool, 0, capacity),
	}
}

// Append adds one endorsement as the next row of every column.
func (c *EndorsementColumns) Append(e *Endorsement) {
	c.Endorsers = append(c.Endorsers, e.Endorser)
	c.EndorserNames = append(c.EndorserNames, e.EndorserName)
	c.EndorseeNames = append(c.EndorseeNames, e.EndorseeName)
	c.Locations = append(c.Locations, e.Location)
	c.Occupations = append(c.Occupations, e.Occupation)
	c.PhoneNumbers = append(c.PhoneNumbers, e.PhoneNumber)
	c.Reasons = append(c.Reasons, e.Reason)
	c.AttachmentRefs = append(c.AttachmentRefs, e.AttachmentRef)
	c.Timestamps = append(c.Timestamps, e.Timestamp)
	c.Reviews = append(c.Reviews, e.Review)
	c.Validated = append(c.Validated, e.Validated)
}
