package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTemplate = `<html><style>.v{color:red}</style><h1>{Company}</h1>{AutoPrint}` +
	`<!--voucher--><p>{Number}|{Code}|{Price}|{Vendor}|{Quota}|{Profile}|{Unknown}</p><!--/voucher-->` +
	`{Vouchers}</html>`

func TestFormatter(t *testing.T) {
	id := NewFormatter("id-ID", "Rp")
	assert.Equal(t, "10.000", id.Number(10000))
	assert.Equal(t, "Rp 1.500.000", id.Money(1499999.6))
	assert.Equal(t, "16/03/2026", id.Date(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)))

	us := NewFormatter("en-US", "")
	assert.Equal(t, "10,000", us.Money(10000))
	assert.Equal(t, "03/16/2026", us.Date(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, "Unlimited", Quota(0))
	assert.Equal(t, "1.0 GiB", Quota(1<<30))
}

func TestParseIDs(t *testing.T) {
	ids, err := ParseIDs(" 3, 1,,2 ")
	require.NoError(t, err)
	assert.Equal(t, []uint{3, 1, 2}, ids)

	for _, raw := range []string{"", " , ", "1,x", "0"} {
		_, err := ParseIDs(raw)
		assert.ErrorIs(t, err, ErrInvalidInput, raw)
	}
}

func TestTemplates(t *testing.T) {
	db := testutil.NewDB(t)
	dir := filepath.Join(t.TempDir(), "templates")
	svc := NewPrintService(db, NewSettingsService(db), dir)

	for _, info := range svc.ListTemplates() {
		assert.False(t, info.Custom)
	}
	_, err := svc.ReadTemplate("a4")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.EnsureTemplates())
	a4, err := svc.ReadTemplate("template_a4.html")
	require.NoError(t, err)
	assert.Contains(t, a4, voucherStart)
	for _, info := range svc.ListTemplates() {
		assert.True(t, info.Custom, info.Name)
		assert.Positive(t, info.Size)
	}

	_, err = svc.ReadTemplate("../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.ErrorIs(t, svc.UpdateTemplate("evil.html", testTemplate), ErrNotAllowed)
	assert.ErrorIs(t, svc.UpdateTemplate("a4", "  "), ErrInvalidInput)
	assert.ErrorIs(t, svc.UpdateTemplate("a4", "<html>{Vouchers}</html>"), ErrInvalidInput)
	assert.ErrorIs(t, svc.UpdateTemplate("a4", "<!--voucher-->{Code}<!--/voucher-->"), ErrInvalidInput)
	assert.ErrorIs(t, svc.UpdateTemplate("a4", "<!--voucher-->{Code<!--/voucher-->{Vouchers}"), ErrInvalidInput)
	assert.ErrorIs(t, svc.UpdateTemplate("a4", strings.Repeat("x", maxTemplateBytes+1)), ErrInvalidInput)

	require.NoError(t, svc.UpdateTemplate("thermal", testTemplate))
	got, err := svc.ReadTemplate("thermal")
	require.NoError(t, err)
	assert.Equal(t, testTemplate, got)

	// existing files are left alone
	require.NoError(t, svc.EnsureTemplates())
	got, err = svc.ReadTemplate("thermal")
	require.NoError(t, err)
	assert.Equal(t, testTemplate, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	preview, err := svc.Preview(context.Background(), "thermal")
	require.NoError(t, err)
	assert.Contains(t, preview, "1|ABC123|Rp 5.000|Tanpa Vendor|2.0 GiB|1 Hari|{Unknown}")
}

func TestPrintBatch(t *testing.T) {
	db := testutil.NewDB(t)
	settings := NewSettingsService(db)
	svc := NewPrintService(db, settings, t.TempDir())
	ctx := context.Background()
	require.NoError(t, svc.UpdateTemplate("a4", testTemplate))
	require.NoError(t, settings.Set(ctx, models.SettingCompanyName, "Net & Co"))

	router := testutil.SeedRouter(t, db, "10.0.0.1", 8728)
	profile := testutil.SeedProfile(t, db, router.ID, models.ProfileTypeHotspot, "3jam")
	vendor := &models.Vendor{Name: "Warung <Ani>", IsActive: true}
	require.NoError(t, db.Create(vendor).Error)
	batch := &models.VoucherBatch{ID: "batch-1", ProfileID: profile.ID, RouterID: router.ID, Count: 2, CodeLength: 6, Charset: models.CharsetAlnum, UserMode: models.UserModeVoucher}
	require.NoError(t, db.Create(batch).Error)
	vouchers := []models.Voucher{
		{Code: "AAA111", Password: "AAA111", BatchID: batch.ID, ProfileID: profile.ID, RouterID: router.ID, VendorID: &vendor.ID, PriceSell: 5000, Status: models.VoucherStatusUnused},
		{Code: "BBB222", Password: "BBB222", BatchID: batch.ID, ProfileID: profile.ID, RouterID: router.ID, PriceSell: 5000, Status: models.VoucherStatusUnused},
	}
	require.NoError(t, db.Create(&vouchers).Error)

	page, err := svc.PrintBatch(ctx, batch.ID, PrintOptions{AutoPrint: true})
	require.NoError(t, err)
	assert.Contains(t, page, "<h1>Net &amp; Co</h1>")
	assert.Contains(t, page, "window.print()")
	assert.Contains(t, page, ".v{color:red}")
	assert.Contains(t, page, "<p>1|AAA111|Rp 5.000|Warung &lt;Ani&gt;|1.0 GiB|3jam|{Unknown}</p>")
	assert.Contains(t, page, "<p>2|BBB222|Rp 5.000|Tanpa Vendor|1.0 GiB|3jam|{Unknown}</p>")
	assert.Less(t, strings.Index(page, "AAA111"), strings.Index(page, "BBB222"))

	page, err = svc.PrintVouchers(ctx, []uint{vouchers[1].ID}, PrintOptions{})
	require.NoError(t, err)
	assert.NotContains(t, page, "AAA111")
	assert.NotContains(t, page, "window.print()")

	_, err = svc.PrintBatch(ctx, "missing", PrintOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.PrintVouchers(ctx, []uint{999}, PrintOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.PrintVouchers(ctx, nil, PrintOptions{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
