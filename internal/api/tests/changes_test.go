package api_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/mkarlsson/sharesync/internal/api/testutils"
	"github.com/mkarlsson/sharesync/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createGroup(t *testing.T, testCtx *testutils.TestContext, token, name string) string {
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/groups",
		models.CreateGroupRequest{Name: name},
		testutils.AuthHeaders(token),
	)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp models.GroupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Group)
	return resp.Group.ID
}

func createRecord(t *testing.T, testCtx *testutils.TestContext, token string, groupID *string, description string) string {
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/records",
		models.CreateRecordRequest{
			Amount:      decimal.NewFromFloat(42.50),
			Currency:    "EUR",
			Description: description,
			Category:    "food",
			OccurredOn:  "2024-06-15",
			GroupID:     groupID,
		},
		testutils.AuthHeaders(token),
	)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp models.RecordResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Record)
	return resp.Record.ID
}

func getChanges(t *testing.T, testCtx *testutils.TestContext, token, groupID string) models.ChangesResponse {
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		fmt.Sprintf("/api/groups/%s/changes", groupID),
		nil,
		testutils.AuthHeaders(token),
	)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.ChangesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestChangeFeedFollowsRecordLifecycle(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	groupID := createGroup(t, testCtx, testCtx.TestUserJWT, "Trip to Oslo")

	// A record tagged with the group produces an ADDED entry carrying
	// the full record payload.
	recordID := createRecord(t, testCtx, testCtx.TestUserJWT, &groupID, "train tickets")

	changes := getChanges(t, testCtx, testCtx.TestUserJWT, groupID)
	require.Len(t, changes.Changes, 1)
	assert.Equal(t, models.ChangeAdded, changes.Changes[0].Kind)
	assert.Equal(t, recordID, changes.Changes[0].RecordID)
	require.NotNil(t, changes.Changes[0].Data)
	assert.Equal(t, "train tickets", changes.Changes[0].Data.Description)
	assert.False(t, changes.HasMore)

	// An in-place edit appends a MODIFIED entry with the new payload.
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPut,
		fmt.Sprintf("/api/records/%s", recordID),
		models.UpdateRecordRequest{
			Amount:      decimal.NewFromFloat(55.00),
			Currency:    "EUR",
			Description: "train tickets (return)",
			Category:    "food",
			OccurredOn:  "2024-06-15",
			GroupID:     &groupID,
		},
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	require.Equal(t, http.StatusOK, w.Code)

	changes = getChanges(t, testCtx, testCtx.TestUserJWT, groupID)
	require.Len(t, changes.Changes, 2)
	assert.Equal(t, models.ChangeModified, changes.Changes[1].Kind)
	require.NotNil(t, changes.Changes[1].Data)
	assert.Equal(t, "train tickets (return)", changes.Changes[1].Data.Description)
	assert.Equal(t, int64(2), changes.Changes[1].Data.Version)

	// Deleting the record appends a REMOVED entry with no payload.
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodDelete,
		fmt.Sprintf("/api/records/%s", recordID),
		nil,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	require.Equal(t, http.StatusOK, w.Code)

	changes = getChanges(t, testCtx, testCtx.TestUserJWT, groupID)
	require.Len(t, changes.Changes, 3)
	assert.Equal(t, models.ChangeRemoved, changes.Changes[2].Kind)
	assert.Nil(t, changes.Changes[2].Data)
}

func TestMovingRecordBetweenGroups(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	oldGroup := createGroup(t, testCtx, testCtx.TestUserJWT, "Old Group")
	newGroup := createGroup(t, testCtx, testCtx.TestUserJWT, "New Group")
	recordID := createRecord(t, testCtx, testCtx.TestUserJWT, &oldGroup, "shared dinner")

	// Retagging the record moves it: the old group sees a REMOVED
	// entry, the new group an ADDED one, from the same edit.
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPut,
		fmt.Sprintf("/api/records/%s", recordID),
		models.UpdateRecordRequest{
			Amount:      decimal.NewFromFloat(42.50),
			Currency:    "EUR",
			Description: "shared dinner",
			Category:    "food",
			OccurredOn:  "2024-06-15",
			GroupID:     &newGroup,
		},
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	require.Equal(t, http.StatusOK, w.Code)

	oldChanges := getChanges(t, testCtx, testCtx.TestUserJWT, oldGroup)
	require.Len(t, oldChanges.Changes, 2)
	assert.Equal(t, models.ChangeRemoved, oldChanges.Changes[1].Kind)
	assert.Nil(t, oldChanges.Changes[1].Data)

	newChanges := getChanges(t, testCtx, testCtx.TestUserJWT, newGroup)
	require.Len(t, newChanges.Changes, 1)
	assert.Equal(t, models.ChangeAdded, newChanges.Changes[0].Kind)
	assert.Equal(t, recordID, newChanges.Changes[0].RecordID)

	// Both sides of the move record the same actor.
	assert.Equal(t, oldChanges.Changes[1].ActorID, newChanges.Changes[0].ActorID)
}

func TestChangeFeedPagesThroughSameTimestampEntries(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	groupID := createGroup(t, testCtx, testCtx.TestUserJWT, "Departures")

	_, memberToken := testutils.SignUpUser(t, testCtx, "departing@example.com", "Departing")
	inviteAndJoin(t, testCtx, testCtx.TestUserJWT, groupID, memberToken, models.RoleContributor)

	r1 := createRecord(t, testCtx, memberToken, &groupID, "hotel")
	r2 := createRecord(t, testCtx, memberToken, &groupID, "taxi")

	// Leaving evicts both records with a single cascade timestamp.
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		fmt.Sprintf("/api/groups/%s/leave", groupID),
		nil,
		testutils.AuthHeaders(memberToken),
	)
	require.Equal(t, http.StatusOK, w.Code)

	// Page so the boundary falls between the two equal-timestamp
	// evictions.
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		fmt.Sprintf("/api/groups/%s/changes?limit=3", groupID),
		nil,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	require.Equal(t, http.StatusOK, w.Code)

	var first models.ChangesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.Len(t, first.Changes, 3)
	require.True(t, first.HasMore)

	last := first.Changes[2]
	assert.Equal(t, models.ChangeRemoved, last.Kind)

	query := url.Values{}
	query.Set("since", last.Timestamp.Format(time.RFC3339Nano))
	query.Set("sinceId", last.ID)
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		fmt.Sprintf("/api/groups/%s/changes?%s", groupID, query.Encode()),
		nil,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	require.Equal(t, http.StatusOK, w.Code)

	var second models.ChangesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	require.Len(t, second.Changes, 1, "the eviction sharing the boundary timestamp must arrive on the next page")
	assert.False(t, second.HasMore)
	assert.Equal(t, models.ChangeRemoved, second.Changes[0].Kind)
	assert.NotEqual(t, last.ID, second.Changes[0].ID)

	// Between the two pages both records were evicted.
	evicted := []string{first.Changes[2].RecordID, second.Changes[0].RecordID}
	assert.ElementsMatch(t, []string{r1, r2}, evicted)
}

func TestPrivateRecordProducesNoChanges(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	groupID := createGroup(t, testCtx, testCtx.TestUserJWT, "Quiet Group")

	// An untagged record is private and never reaches any changelog.
	createRecord(t, testCtx, testCtx.TestUserJWT, nil, "personal coffee")

	changes := getChanges(t, testCtx, testCtx.TestUserJWT, groupID)
	assert.Empty(t, changes.Changes)
}

func TestChangeFeedRequiresMembership(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	groupID := createGroup(t, testCtx, testCtx.TestUserJWT, "Members Only")

	_, outsiderToken := testutils.SignUpUser(t, testCtx, "outsider@example.com", "Outsider")

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		fmt.Sprintf("/api/groups/%s/changes", groupID),
		nil,
		testutils.AuthHeaders(outsiderToken),
	)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Malformed pagination is rejected up front.
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		fmt.Sprintf("/api/groups/%s/changes?since=yesterday", groupID),
		nil,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
