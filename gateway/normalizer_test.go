package gateway

import (
	"testing"
	"time"

	"skillendorse/chaincode/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func columns(n int) *model.EndorsementColumns {
	cols := model.NewEndorsementColumns(n)
	for i := 0; i < n; i++ {
		cols.Append(&model.Endorsement{
			Endorser:      "0x00000000000000000000000000000000000000aa",
			EndorserName:  "Filer",
			EndorseeName:  "Subject",
			Location:      "Nuzvid",
			Occupation:    "Teacher",
			PhoneNumber:   "555",
			Reason:        "reason",
			AttachmentRef: "ipfs://Qm123",
			Timestamp:     int64(1700000000 + i),
			Review:        i % 6,
			Validated:     i%2 == 1,
		})
	}
	return cols
}

func TestNormalizeProducesOneRowPerPosition(t *testing.T) {
	for _, n := range []int{0, 1, 7} {
		records, err := Normalize(columns(n), "gateway.pinata.cloud")
		require.NoError(t, err)
		require.Len(t, records, n)
		require.NotNil(t, records)
		for i, r := range records {
			assert.Equal(t, i, r.Index)
			assert.Equal(t, i%6, r.Review)
			assert.Equal(t, i%2 == 1, r.Validated)
			assert.Equal(t, int64(1700000000+i), r.Timestamp)
		}
	}
}

func TestNormalizeDerivesDisplayFields(t *testing.T) {
	records, err := Normalize(columns(1), "gateway.pinata.cloud/")
	require.NoError(t, err)
	r := records[0]
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), r.FiledAt)
	assert.Equal(t, "Tue, 14 Nov 2023 22:13:20 UTC", r.DisplayTime)
	assert.Equal(t, "https://gateway.pinata.cloud/ipfs/Qm123", r.AttachmentURL)
}

func TestNormalizeRejectsMismatchedColumns(t *testing.T) {
	mutations := map[string]func(c *model.EndorsementColumns){
		"reviews":   func(c *model.EndorsementColumns) { c.Reviews = c.Reviews[:1] },
		"validated": func(c *model.EndorsementColumns) { c.Validated = append(c.Validated, true) },
		"locations": func(c *model.EndorsementColumns) { c.Locations = nil },
		"endorsers": func(c *model.EndorsementColumns) { c.Endorsers = c.Endorsers[:2] },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cols := columns(3)
			mutate(cols)
			records, err := Normalize(cols, "")
			require.ErrorIs(t, err, ErrColumnMismatch)
			assert.Nil(t, records)
		})
	}
}

func TestNormalizeNilColumns(t *testing.T) {
	records, err := Normalize(nil, "")
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestAttachmentURL(t *testing.T) {
	assert.Equal(t, "https://ipfs.io/ipfs/QmX", AttachmentURL("ipfs://QmX", "ipfs.io"))
	assert.Empty(t, AttachmentURL("", "ipfs.io"))
	assert.Empty(t, AttachmentURL("ipfs://", "ipfs.io"))
	assert.Empty(t, AttachmentURL("https://example.com/a", "ipfs.io"))
	assert.Empty(t, AttachmentURL("ipfs://QmX", ""))
}
