package services

import (
	"context"
	"testing"

	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings(t *testing.T) {
	db := testutil.NewDB(t)
	svc := NewSettingsService(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.Setting{Key: models.SettingJWTSecret, Value: "s3cret"}).Error)
	require.NoError(t, svc.SetMany(ctx, map[string]string{
		models.SettingCompanyName:    "Net Desa",
		models.SettingInvoiceDueDays: "10",
		models.SettingLocale:         "  ",
		"sms_enabled":                "true",
	}))

	assert.Equal(t, "Net Desa", svc.String(ctx, models.SettingCompanyName, "x"))
	assert.Equal(t, "id-ID", svc.String(ctx, models.SettingLocale, "id-ID"))
	assert.Equal(t, 10, svc.Int(ctx, models.SettingInvoiceDueDays, 7))
	assert.Equal(t, 3, svc.Int(ctx, models.SettingSuspendGraceDays, 3))
	assert.Equal(t, 5, svc.Int(ctx, models.SettingCompanyName, 5))

	st, err := svc.Get(ctx, models.SettingInvoiceDueDays)
	require.NoError(t, err)
	assert.Equal(t, "int", st.ValueType)
	st, err = svc.Get(ctx, "sms_enabled")
	require.NoError(t, err)
	assert.Equal(t, "bool", st.ValueType)

	require.NoError(t, svc.Set(ctx, models.SettingInvoiceDueDays, "14"))
	assert.Equal(t, 14, svc.Int(ctx, models.SettingInvoiceDueDays, 7))

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(ctx, models.SettingJWTSecret)
	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.ErrorIs(t, svc.Set(ctx, models.SettingJWTSecret, "mine"), ErrInvalidInput)
	assert.ErrorIs(t, svc.Set(ctx, " ", "x"), ErrInvalidInput)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Net Desa", all[models.SettingCompanyName])
	assert.NotContains(t, all, models.SettingJWTSecret)
	assert.Empty(t, svc.String(ctx, models.SettingJWTSecret, ""))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, len(models.DefaultSettings)+1)
	for _, s := range list {
		assert.NotEqual(t, models.SettingJWTSecret, s.Key)
	}
}
