package intake_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/goliatone/go-intake"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminService_Update(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.services.Admin
	actor := intake.AdminActor(uuid.New())

	donor, _ := f.register(t, intake.RoleDonor, "donor@example.com")
	f.register(t, intake.RoleDonor, "taken@example.com")

	t.Run("names and email", func(t *testing.T) {
		account, err := admin.Update(ctx, donor.ID, intake.AdminAccountUpdate{
			FirstName: strPtr(" Fatima "),
			Email:     strPtr(" New@Example.com "),
		}, actor)
		require.NoError(t, err)
		assert.Equal(t, "Fatima", account.FirstName)
		assert.Equal(t, "new@example.com", account.Email)
	})

	t.Run("field validation", func(t *testing.T) {
		_, err := admin.Update(ctx, donor.ID, intake.AdminAccountUpdate{Email: strPtr("nope")}, actor)
		assert.True(t, intake.HasTextCode(err, intake.TextCodeValidation))

		_, err = admin.Update(ctx, donor.ID, intake.AdminAccountUpdate{LastName: strPtr(" ")}, actor)
		assert.True(t, intake.HasTextCode(err, intake.TextCodeValidation))
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := admin.Update(ctx, donor.ID, intake.AdminAccountUpdate{Email: strPtr("taken@example.com")}, actor)
		assert.True(t, intake.HasTextCode(err, intake.TextCodeDuplicateEmail))
	})

	t.Run("profile is validated after merge", func(t *testing.T) {
		_, err := admin.Update(ctx, donor.ID, intake.AdminAccountUpdate{Profile: json.RawMessage(`{"organizationType":"Yacht Club"}`)}, actor)
		assert.True(t, intake.HasTextCode(err, intake.TextCodeValidation))
	})

	t.Run("activation never touches history", func(t *testing.T) {
		inactive := false
		account, err := admin.Update(ctx, donor.ID, intake.AdminAccountUpdate{IsActive: &inactive}, actor)
		require.NoError(t, err)
		assert.False(t, account.IsActive)
		assert.Empty(t, account.VerificationHistory)
		assert.Equal(t, intake.StatusPending, account.VerificationStatus)

		active := true
		account, err = admin.Update(ctx, donor.ID, intake.AdminAccountUpdate{IsActive: &active}, actor)
		require.NoError(t, err)
		assert.True(t, account.IsActive)

		assert.Len(t, f.sink.ofType(intake.ActivityEventAccountDeactivated), 1)
		assert.Len(t, f.sink.ofType(intake.ActivityEventAccountReactivated), 1)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := admin.Update(ctx, uuid.New(), intake.AdminAccountUpdate{FirstName: strPtr("X")}, actor)
		assert.True(t, intake.HasTextCode(err, intake.TextCodeAccountNotFound))
	})
}

func TestAdminService_Deactivate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	donor, _ := f.register(t, intake.RoleDonor, "donor@example.com")
	actor := intake.AdminActor(uuid.New())

	changed, err := f.services.Admin.Deactivate(ctx, donor.ID, actor)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.services.Admin.Deactivate(ctx, donor.ID, actor)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Len(t, f.sink.ofType(intake.ActivityEventAccountDeactivated), 1)

	_, err = f.services.Admin.Deactivate(ctx, uuid.New(), actor)
	assert.True(t, intake.HasTextCode(err, intake.TextCodeAccountNotFound))
}

func TestAdminService_Listings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.services.Admin
	reviewer, _ := f.register(t, intake.RoleAdmin, "admin@example.com")

	first, _ := f.register(t, intake.RoleAcceptor, "a1@example.com")
	second, _ := f.register(t, intake.RoleAcceptor, "a2@example.com")
	f.register(t, intake.RoleAcceptor, "a3@example.com")
	donor, _ := f.register(t, intake.RoleDonor, "d1@example.com")
	f.register(t, intake.RoleDonor, "d2@example.com")

	_, err := admin.Deactivate(ctx, donor.ID, intake.AdminActor(reviewer.ID))
	require.NoError(t, err)

	actor := intake.AdminActor(reviewer.ID)
	_, err = f.services.Workflow.Transition(ctx, first.ID, intake.StatusApproved, actor, "")
	require.NoError(t, err)
	_, err = f.services.Workflow.Transition(ctx, second.ID, intake.StatusInReview, actor, "")
	require.NoError(t, err)

	donors, err := admin.ActiveByRole(ctx, intake.RoleDonor)
	require.NoError(t, err)
	require.Len(t, donors, 1)
	assert.Equal(t, "d2@example.com", donors[0].Email)

	acceptors, err := admin.Acceptors(ctx)
	require.NoError(t, err)
	require.Len(t, acceptors, 3)
	for i := 1; i < len(acceptors); i++ {
		assert.False(t, acceptors[i].CreatedAt.After(acceptors[i-1].CreatedAt), "newest first")
	}

	stats, err := admin.AcceptorStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, intake.AcceptorStats{
		Total:      3,
		Pending:    1,
		InReview:   1,
		Approved:   1,
		Rejected:   0,
		Verified:   1,
		Unverified: 2,
	}, *stats)

	detail, err := admin.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, detail.VerificationHistory, 1)
	require.NotNil(t, detail.VerificationHistory[0].Actor)
	assert.Equal(t, "admin@example.com", detail.VerificationHistory[0].Actor.Email)

	all, err := admin.List(ctx, intake.AccountFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestAdminService_ListingsCarryHistoryAndNotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	admin := f.services.Admin
	reviewer, _ := f.register(t, intake.RoleAdmin, "admin@example.com")
	acceptor, _ := f.register(t, intake.RoleAcceptor, "listed@example.com")

	actor := intake.AdminActor(reviewer.ID)
	_, err := f.services.Workflow.Transition(ctx, acceptor.ID, intake.StatusInReview, actor, "picked up")
	require.NoError(t, err)
	_, err = f.services.Workflow.Transition(ctx, acceptor.ID, intake.StatusRejected, actor, "blurry id")
	require.NoError(t, err)
	_, err = f.services.Workflow.AddNote(ctx, acceptor.ID, "first note", actor)
	require.NoError(t, err)
	_, err = f.services.Workflow.AddNote(ctx, acceptor.ID, "second note", actor)
	require.NoError(t, err)

	check := func(t *testing.T, listed []*intake.Account) {
		t.Helper()
		var found *intake.Account
		for _, a := range listed {
			if a.ID == acceptor.ID {
				found = a
			}
		}
		require.NotNil(t, found)

		require.Len(t, found.VerificationHistory, 2)
		assert.Equal(t, "picked up", found.VerificationHistory[0].Reason)
		assert.Equal(t, "blurry id", found.VerificationHistory[1].Reason)
		require.NotNil(t, found.VerificationHistory[1].Actor)
		assert.Equal(t, "admin@example.com", found.VerificationHistory[1].Actor.Email)

		require.Len(t, found.VerificationNotes, 2)
		assert.Equal(t, "first note", found.VerificationNotes[0].Note)
		assert.Equal(t, "second note", found.VerificationNotes[1].Note)
		require.NotNil(t, found.VerificationNotes[0].Actor)
		assert.Equal(t, reviewer.ID, found.VerificationNotes[0].Actor.ID)
	}

	t.Run("list", func(t *testing.T) {
		listed, err := admin.List(ctx, intake.AccountFilter{})
		require.NoError(t, err)
		check(t, listed)
	})

	t.Run("active by role", func(t *testing.T) {
		listed, err := admin.ActiveByRole(ctx, intake.RoleAcceptor)
		require.NoError(t, err)
		check(t, listed)
	})

	t.Run("acceptors", func(t *testing.T) {
		listed, err := admin.Acceptors(ctx)
		require.NoError(t, err)
		check(t, listed)
	})
}
