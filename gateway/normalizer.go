package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"skillendorse/chaincode/model"
)

// ErrColumnMismatch is returned when the columnar reply has columns of unequal length.
var ErrColumnMismatch = errors.New("ledger reply columns have mismatched lengths")

// DisplayTimeLayout formats FiledAt for display.
const DisplayTimeLayout = time.RFC1123

// decodeColumns parses the raw columnar reply of GetEndorsements.
func decodeColumns(payload []byte) (*model.EndorsementColumns, error) {
	var cols model.EndorsementColumns
	if err := json.Unmarshal(payload, &cols); err != nil {
		return nil, fmt.Errorf("decode endorsement columns: %w", err)
	}
	return &cols, nil
}

// Normalize transposes the columnar reply into rows. Row i carries Index i.
// Columns of unequal length fail with ErrColumnMismatch naming the first
// column that disagrees with the endorsers column; no partial result is returned.
func Normalize(cols *model.EndorsementColumns, gatewayHost string) ([]EndorsementRecord, error) {
	if cols == nil {
		return []EndorsementRecord{}, nil
	}
	n := len(cols.Endorsers)
	lengths := []struct {
		name string
		len  int
	}{
		{"endorserNames", len(cols.EndorserNames)},
		{"endorseeNames", len(cols.EndorseeNames)},
		{"locations", len(cols.Locations)},
		{"occupations", len(cols.Occupations)},
		{"phoneNumbers", len(cols.PhoneNumbers)},
		{"reasons", len(cols.Reasons)},
		{"attachmentRefs", len(cols.AttachmentRefs)},
		{"timestamps", len(cols.Timestamps)},
		{"reviews", len(cols.Reviews)},
		{"validated", len(cols.Validated)},
	}
	for _, l := range lengths {
		if l.len != n {
			return nil, fmt.Errorf("%w: %s has %d entries, endorsers has %d", ErrColumnMismatch, l.name, l.len, n)
		}
	}

	records := make([]EndorsementRecord, n)
	for i := 0; i < n; i++ {
		rec := EndorsementRecord{
			Index:         i,
			Endorser:      cols.Endorsers[i],
			EndorserName:  cols.EndorserNames[i],
			EndorseeName:  cols.EndorseeNames[i],
			Location:      cols.Locations[i],
			Occupation:    cols.Occupations[i],
			PhoneNumber:   cols.PhoneNumbers[i],
			Reason:        cols.Reasons[i],
			AttachmentRef: cols.AttachmentRefs[i],
			Review:        cols.Reviews[i],
			Validated:     cols.Validated[i],
		}
		stamp(&rec, cols.Timestamps[i], gatewayHost)
		records[i] = rec
	}
	return records, nil
}

// fromDocument converts a row-shaped ledger document.
func fromDocument(e *model.Endorsement, gatewayHost string) EndorsementRecord {
	rec := EndorsementRecord{
		Index:         e.Index,
		Endorser:      e.Endorser,
		Endorsee:      e.Endorsee,
		EndorserName:  e.EndorserName,
		EndorseeName:  e.EndorseeName,
		Location:      e.Location,
		Occupation:    e.Occupation,
		PhoneNumber:   e.PhoneNumber,
		Reason:        e.Reason,
		AttachmentRef: e.AttachmentRef,
		Review:        e.Review,
		Validated:     e.Validated,
		ValidatedBy:   e.ValidatedBy,
	}
	stamp(&rec, e.Timestamp, gatewayHost)
	return rec
}

func stamp(rec *EndorsementRecord, seconds int64, gatewayHost string) {
	rec.Timestamp = seconds
	rec.FiledAt = time.Unix(seconds, 0).UTC()
	rec.DisplayTime = rec.FiledAt.Format(DisplayTimeLayout)
	rec.AttachmentURL = AttachmentURL(rec.AttachmentRef, gatewayHost)
}

// AttachmentURL turns ipfs://<cid> into an HTTPS gateway URL. Anything else yields "".
func AttachmentURL(ref, gatewayHost string) string {
	hash := strings.TrimPrefix(ref, ipfsScheme)
	if hash == ref || hash == "" || gatewayHost == "" {
		return ""
	}
	return "https://" + strings.TrimSuffix(gatewayHost, "/") + "/ipfs/" + hash
}
