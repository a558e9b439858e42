package preference

import (
	"testing"

	"renewal_reminder/internal/domain/leadtime"
	"renewal_reminder/internal/domain/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartialSettings_Validate(t *testing.T) {
	assert.NoError(t, PartialSettings{}.Validate())
	assert.NoError(t, PartialSettings{Offsets: leadtime.Offsets{60, 30, 1}}.Validate())

	err := PartialSettings{Offsets: leadtime.Offsets{7, 30}}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "offsets", vErr.Field)

	assert.ErrorIs(t, PartialSettings{Offsets: leadtime.Offsets{}}.Validate(), ErrValidation)
	assert.ErrorIs(t, PartialSettings{Channels: []notifier.Channel{"fax"}}.Validate(), ErrValidation)
	assert.ErrorIs(t, PartialSettings{Channels: []notifier.Channel{}}.Validate(), ErrValidation)
}

func TestPartialSettings_IsEmpty(t *testing.T) {
	assert.True(t, PartialSettings{}.IsEmpty())
	off := false
	assert.False(t, PartialSettings{Enabled: &off}.IsEmpty())
}
