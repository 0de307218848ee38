package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serima/core/store"
	"serima/core/store/storetest"
)

func TestWorkflowQuestionsOrderedByCategoryThenPosition(t *testing.T) {
	db := storetest.Open(t)
	f := storetest.SeedCatalog(t, db)
	cat := store.NewCatalogStore(db)

	w, err := cat.GetWorkflow(context.Background(), f.W2.ID)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.True(t, w.IsImpactNeeded)
	require.NotNil(t, w.SubmissionEmailID)
	assert.Equal(t, f.Submission.ID, *w.SubmissionEmailID)

	qs, err := cat.ListWorkflowQuestions(context.Background(), f.W2.ID)
	require.NoError(t, err)
	require.Len(t, qs, 3)
	assert.Equal(t, []int64{f.QMulti.ID, f.QCountries.ID, f.QRegions.ID}, []int64{qs[0].ID, qs[1].ID, qs[2].ID})
	assert.Equal(t, "Technical", qs[0].Category.Label)
	require.Len(t, qs[0].Predefined, 3)
	assert.Equal(t, "Software", qs[0].Predefined[0].Label, "predefined answers follow their position")
}

func TestSectorRegulationsCarrySectors(t *testing.T) {
	db := storetest.Open(t)
	f := storetest.SeedCatalog(t, db)
	cat := store.NewCatalogStore(db)

	bundles, err := cat.ListSectorRegulations(context.Background())
	require.NoError(t, err)
	require.Len(t, bundles, 3)
	assert.Equal(t, []int64{f.Electricity.ID}, bundles[0].SectorIDs())
	assert.Equal(t, "ENE", bundles[0].Sectors[0].ParentAcronym)
	assert.Equal(t, "NIS", bundles[0].RegulationLabel)
	assert.Empty(t, bundles[2].Sectors)

	one, err := cat.GetSectorRegulation(context.Background(), f.B1.ID)
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.True(t, one.IsDetectionDateNeeded)
	require.NotNil(t, one.OpeningEmailID)

	missing, err := cat.GetSectorRegulation(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBundleWorkflowPositionsAcceptDuplicates(t *testing.T) {
	db := storetest.Open(t)
	f := storetest.SeedCatalog(t, db)
	cat := store.NewCatalogStore(db)
	ctx := context.Background()

	err := cat.UpdateBundleWorkflowPositions(ctx, f.B1.ID, map[int64]int{f.B1W1.ID: 3, f.B1W2.ID: 3})
	require.NoError(t, err)
	items, err := cat.ListBundleWorkflows(ctx, f.B1.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[0].Position)
	assert.Equal(t, 3, items[1].Position)

	err = cat.UpdateBundleWorkflowPositions(ctx, f.B2.ID, map[int64]int{f.B1W1.ID: 1})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestImpactsFilteredByRegulationAndSector(t *testing.T) {
	db := storetest.Open(t)
	f := storetest.SeedCatalog(t, db)
	cat := store.NewCatalogStore(db)

	gas, err := cat.ListImpacts(context.Background(), f.NIS.ID, []int64{f.Gas.ID})
	require.NoError(t, err)
	require.Len(t, gas, 1)
	assert.Equal(t, f.ImpactOutage.ID, gas[0].ID)

	elec, err := cat.ListImpacts(context.Background(), f.NIS.ID, []int64{f.Electricity.ID, f.Gas.ID})
	require.NoError(t, err)
	assert.Len(t, elec, 2)

	none, err := cat.ListImpacts(context.Background(), f.EIDAS.ID, []int64{f.Electricity.ID})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFirstEmailByTypeAndReminders(t *testing.T) {
	db := storetest.Open(t)
	f := storetest.SeedCatalog(t, db)
	cat := store.NewCatalogStore(db)
	ctx := context.Background()

	e, err := cat.FirstEmailByType(ctx, store.EmailFinal)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, f.Final.ID, e.ID)

	none, err := cat.FirstEmailByType(ctx, store.EmailClosing)
	require.NoError(t, err)
	assert.Nil(t, none)

	reminders, err := cat.ListReminders(ctx)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, f.B1.ID, reminders[0].SectorRegulationID)
	assert.Equal(t, f.W2.ID, reminders[0].WorkflowID)
	assert.Equal(t, 72, reminders[0].DelayInHours)
}

func TestUsersStoreLoadsScopes(t *testing.T) {
	db := storetest.Open(t)
	f := storetest.SeedCatalog(t, db)
	users := store.NewUsersStore(db)
	ctx := context.Background()

	alice, err := users.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.True(t, alice.InGroup(store.GroupIncidentUser))
	require.Len(t, alice.Companies, 1)
	assert.Equal(t, "ACME", alice.Companies[0].Identifier)

	reg, err := users.Get(ctx, f.Regulator.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.Electricity.ID}, reg.SectorIDs)

	_, err = users.Create(ctx, &store.User{Username: "alice"})
	assert.ErrorIs(t, err, store.ErrConflict)
}
