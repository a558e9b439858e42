package item

import (
	"testing"
	"time"

	"renewal_reminder/internal/domain/leadtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCycle(t *testing.T) {
	c, err := ParseCycle("annually", 0)
	require.NoError(t, err)
	assert.Equal(t, 12, c.Months())

	c, err = ParseCycle(" Quarterly ", 0)
	require.NoError(t, err)
	assert.Equal(t, CycleQuarterly, c.Kind)

	c, err = ParseCycle("custom", 45)
	require.NoError(t, err)
	assert.Equal(t, RenewalCycle{Kind: CycleCustom, Days: 45}, c)
	assert.Equal(t, "custom-45-days", c.String())

	c, err = ParseCycle("custom-90-days", 0)
	require.NoError(t, err)
	assert.Equal(t, 90, c.Days)
}

func TestParseCycle_NeverDefaultsToNone(t *testing.T) {
	for _, raw := range []string{"", "fortnightly", "custom", "custom-0-days", "yearly-ish"} {
		_, err := ParseCycle(raw, 0)
		assert.Error(t, err, "cycle %q should be rejected", raw)
	}
}

func TestDecodeRenewal_CurrentShape(t *testing.T) {
	raw := []byte(`{
		"start_date": "2024-01-01",
		"end_date": "2025-01-01",
		"renewal_cycle": "annually",
		"reminder_offsets": [30, 14, 7],
		"is_active": true,
		"auto_renewal": false
	}`)

	info, err := DecodeRenewal("item-1", raw)
	require.NoError(t, err)
	require.NotNil(t, info.EndDate)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *info.EndDate)
	assert.Equal(t, CycleAnnually, info.Cycle.Kind)
	assert.Equal(t, leadtime.Offsets{30, 14, 7}, info.ReminderOffsets)
	assert.True(t, info.IsActive)
}

func TestDecodeRenewal_LegacyShape(t *testing.T) {
	raw := []byte(`{
		"expiry_date": "2025-06-30T00:00:00Z",
		"renewal_period": "custom-30-days",
		"reminder_days": [7, 30, 14, 7],
		"auto_renewal": true
	}`)

	info, err := DecodeRenewal("item-legacy", raw)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-30", FormatDate(*info.EndDate))
	assert.Equal(t, RenewalCycle{Kind: CycleCustom, Days: 30}, info.Cycle)
	assert.Equal(t, leadtime.Offsets{30, 14, 7}, info.ReminderOffsets)
	assert.True(t, info.IsActive, "missing is_active defaults to active")
}

func TestDecodeRenewal_Missing(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("null"), []byte("{}"), []byte("  ")} {
		_, err := DecodeRenewal("x", raw)
		assert.ErrorIs(t, err, ErrNoRenewalInfo)
	}
}

func TestDecodeRenewal_ConfigurationErrors(t *testing.T) {
	cases := map[string]string{
		"not json":               `{"end_date": `,
		"bad cycle":              `{"end_date": "2025-01-01", "renewal_cycle": "biweekly"}`,
		"missing cycle":          `{"end_date": "2025-01-01"}`,
		"bad date":               `{"end_date": "01/02/2025", "renewal_cycle": "none"}`,
		"periodic without end":   `{"renewal_cycle": "monthly"}`,
		"auto renew without end": `{"renewal_cycle": "none", "auto_renewal": true}`,
		"end before start":       `{"start_date": "2025-02-01", "end_date": "2025-01-01", "renewal_cycle": "none"}`,
		"ascending offsets":      `{"end_date": "2025-01-01", "renewal_cycle": "none", "reminder_offsets": [7, 30]}`,
		"negative legacy offset": `{"end_date": "2025-01-01", "renewal_cycle": "none", "reminder_days": [-1]}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRenewal("item-x", []byte(raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "item-x", cfgErr.ItemID)
		})
	}
}

func TestDecodeRenewal_PerpetualItem(t *testing.T) {
	info, err := DecodeRenewal("p", []byte(`{"renewal_cycle": "none"}`))
	require.NoError(t, err)
	assert.Nil(t, info.EndDate)
}
