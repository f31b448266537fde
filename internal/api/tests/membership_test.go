package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/mkarlsson/sharesync/internal/api/testutils"
	"github.com/mkarlsson/sharesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerMustTransferBeforeLeaving(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	ownerToken := testCtx.TestUserJWT
	groupID := createGroup(t, testCtx, ownerToken, "Handover")

	memberID, memberToken := testutils.SignUpUser(t, testCtx, "successor@example.com", "Successor")
	inviteAndJoin(t, testCtx, ownerToken, groupID, memberToken, models.RoleContributor)

	// An owner with other members cannot walk away.
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		fmt.Sprintf("/api/groups/%s/leave", groupID),
		nil,
		testutils.AuthHeaders(ownerToken),
	)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Transfer to self is rejected.
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		fmt.Sprintf("/api/groups/%s/transfer", groupID),
		models.TransferOwnershipRequest{NewOwnerID: testCtx.TestUserID},
		testutils.AuthHeaders(ownerToken),
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Transfer to a non-member is rejected.
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		fmt.Sprintf("/api/groups/%s/transfer", groupID),
		models.TransferOwnershipRequest{NewOwnerID: "not-a-member"},
		testutils.AuthHeaders(ownerToken),
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Transfer to the member succeeds, after which the old owner may
	// leave.
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		fmt.Sprintf("/api/groups/%s/transfer", groupID),
		models.TransferOwnershipRequest{NewOwnerID: memberID},
		testutils.AuthHeaders(ownerToken),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		fmt.Sprintf("/api/groups/%s/leave", groupID),
		nil,
		testutils.AuthHeaders(ownerToken),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	// The new owner still has the group; the departed user does not.
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		fmt.Sprintf("/api/groups/%s", groupID),
		nil,
		testutils.AuthHeaders(memberToken),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		fmt.Sprintf("/api/groups/%s", groupID),
		nil,
		testutils.AuthHeaders(ownerToken),
	)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLeavingEvictsDepartedMembersRecords(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	ownerToken := testCtx.TestUserJWT
	groupID := createGroup(t, testCtx, ownerToken, "Departure")

	_, memberToken := testutils.SignUpUser(t, testCtx, "leaver@example.com", "Leaver")
	inviteAndJoin(t, testCtx, ownerToken, groupID, memberToken, models.RoleContributor)

	recordID := createRecord(t, testCtx, memberToken, &groupID, "parting expense")

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		fmt.Sprintf("/api/groups/%s/leave", groupID),
		nil,
		testutils.AuthHeaders(memberToken),
	)
	require.Equal(t, http.StatusOK, w.Code)

	// The cascade appended a REMOVED entry for the departed member's
	// record so remaining devices evict it.
	changes := getChanges(t, testCtx, ownerToken, groupID)
	require.NotEmpty(t, changes.Changes)
	last := changes.Changes[len(changes.Changes)-1]
	assert.Equal(t, models.ChangeRemoved, last.Kind)
	assert.Equal(t, recordID, last.RecordID)
}

func TestSoleOwnerLeavingDissolvesGroup(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	ownerToken := testCtx.TestUserJWT
	groupID := createGroup(t, testCtx, ownerToken, "Solo")

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		fmt.Sprintf("/api/groups/%s/leave", groupID),
		nil,
		testutils.AuthHeaders(ownerToken),
	)
	require.Equal(t, http.StatusOK, w.Code)

	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		fmt.Sprintf("/api/groups/%s", groupID),
		nil,
		testutils.AuthHeaders(ownerToken),
	)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteGroupIsIdempotent(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	ownerToken := testCtx.TestUserJWT
	groupID := createGroup(t, testCtx, ownerToken, "Short Lived")
	recordID := createRecord(t, testCtx, ownerToken, &groupID, "soon orphaned")

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodDelete,
		fmt.Sprintf("/api/groups/%s", groupID),
		nil,
		testutils.AuthHeaders(ownerToken),
	)
	require.Equal(t, http.StatusOK, w.Code)

	// A retried delete of a gone group completes as a no-op.
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodDelete,
		fmt.Sprintf("/api/groups/%s", groupID),
		nil,
		testutils.AuthHeaders(ownerToken),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	// The record survives the group, untagged.
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/groups",
		nil,
		testutils.AuthHeaders(ownerToken),
	)
	require.Equal(t, http.StatusOK, w.Code)

	var groups models.GroupListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	assert.Empty(t, groups.Groups)

	var groupRef *string
	err := testCtx.DB.Get(&groupRef, "SELECT group_id FROM expense_records WHERE id = $1", recordID)
	require.NoError(t, err)
	assert.Nil(t, groupRef)
}

func TestConcurrentJoinsRespectTierCapacity(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	ownerToken := testCtx.TestUserJWT
	groupID := createGroup(t, testCtx, ownerToken, "Almost Full")

	// Fill the contributor tier to one below its cap. The owner
	// already occupies a seat.
	for i := 0; i < models.MaxContributors-2; i++ {
		_, token := testutils.SignUpUser(t, testCtx,
			fmt.Sprintf("filler%d@example.com", i), fmt.Sprintf("Filler %d", i))
		inviteAndJoin(t, testCtx, ownerToken, groupID, token, models.RoleContributor)
	}

	invA := createInvitation(t, testCtx, ownerToken, groupID, models.RoleContributor)
	invB := createInvitation(t, testCtx, ownerToken, groupID, models.RoleContributor)

	_, tokenA := testutils.SignUpUser(t, testCtx, "lastseat-a@example.com", "Last Seat A")
	_, tokenB := testutils.SignUpUser(t, testCtx, "lastseat-b@example.com", "Last Seat B")

	// Both race for the final contributor seat on separate codes. The
	// group row lock serializes the joins, so exactly one lands and
	// the other sees the tier full.
	results := make(chan int, 2)
	accept := func(code, token string) {
		w := testutils.PerformRequest(
			testCtx.Router,
			http.MethodPost,
			fmt.Sprintf("/api/invitations/%s/accept", code),
			nil,
			testutils.AuthHeaders(token),
		)
		results <- w.Code
	}
	go accept(invA.Invitation.Code, tokenA)
	go accept(invB.Invitation.Code, tokenB)

	statuses := []int{<-results, <-results}
	assert.ElementsMatch(t, []int{http.StatusOK, http.StatusConflict}, statuses)

	members, err := testCtx.Repository.GetMembers(context.Background(), groupID)
	require.NoError(t, err)
	assert.Len(t, members, models.MaxContributors)

	// The loser's code survives the failed join and stays usable.
	var pending int
	require.NoError(t, testCtx.DB.Get(&pending, `
		SELECT COUNT(*) FROM invitations
		WHERE code IN ($1, $2) AND status = $3`,
		invA.Invitation.Code, invB.Invitation.Code, models.InvitationPending))
	assert.Equal(t, 1, pending)
}
