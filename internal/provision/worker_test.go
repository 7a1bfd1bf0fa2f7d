package provision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hotspotbill/backend/internal/models"
	"github.com/hotspotbill/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestWorkerReschedulesAndAbandons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.Model(f.router).Update("api_port", deadPort(t)).Error)

	require.NoError(t, f.queue.Enqueue(Job{Kind: KindKickPPP, RouterID: f.router.ID, Name: "budi"}))

	now := time.Now()
	w := NewWorker(f.prov, time.Minute, 2)
	w.now = func() time.Time { return now }

	assert.Zero(t, w.Drain(ctx))
	jobs, err := f.queue.List()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Attempts)
	assert.NotEmpty(t, jobs[0].LastError)
	assert.Equal(t, now.Add(time.Minute).Unix(), jobs[0].NextAttempt.Unix())

	// not due yet
	assert.Zero(t, w.Drain(ctx))
	jobs, _ = f.queue.List()
	assert.Equal(t, 1, jobs[0].Attempts)

	w.now = func() time.Time { return now.Add(2 * time.Minute) }
	w.Drain(ctx)
	assert.Zero(t, f.queue.Len())
}

func TestWorkerDropsJobsForDeletedEntities(t *testing.T) {
	f := newFixture(t)
	prof := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypeHotspot, "1day")
	require.NoError(t, f.queue.Enqueue(
		Job{Kind: KindVoucherSync, EntityID: 999, RouterID: f.router.ID, Name: "gone"},
		Job{Kind: KindProfileSync, EntityID: prof.ID, RouterID: f.router.ID, Name: prof.Name},
	))

	w := NewWorker(f.prov, time.Second, 3)
	assert.Equal(t, 2, w.Drain(context.Background()))
	assert.Zero(t, f.queue.Len())
	assert.NotNil(t, f.srv.Find("/ip/hotspot/user/profile", "1day"))
}

func TestWorkerKeepsJobQueuedDuringReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prof := testutil.SeedProfile(t, f.db, f.router.ID, models.ProfileTypeHotspot, "1day")
	v := seedVouchers(t, f.db, prof, 1)[0]
	require.NoError(t, f.db.Model(f.router).Update("api_port", deadPort(t)).Error)
	require.NoError(t, f.queue.Enqueue(Job{Kind: KindVoucherSync, EntityID: v.ID, RouterID: f.router.ID, Name: v.Code}))

	// the voucher is deleted while its sync is being replayed
	var once sync.Once
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("test:delete_voucher", func(tx *gorm.DB) {
		if tx.Statement.Table != "vouchers" {
			return
		}
		once.Do(func() {
			require.NoError(t, f.queue.Enqueue(Job{Kind: KindVoucherDelete, EntityID: v.ID, RouterID: f.router.ID, Name: v.Code}))
		})
	}))

	w := NewWorker(f.prov, time.Minute, 5)
	assert.Zero(t, w.Drain(ctx))

	jobs, err := f.queue.List()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, KindVoucherDelete, jobs[0].Kind)
	assert.Zero(t, jobs[0].Attempts)
}
