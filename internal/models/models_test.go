package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTableIsTotal(t *testing.T) {
	allowed := map[[2]CardStatus]bool{
		{StatusTodo, StatusInProgress}:        true,
		{StatusInProgress, StatusToBeRevised}: true,
		{StatusInProgress, StatusDone}:        true,
		{StatusToBeRevised, StatusInProgress}: true,
		{StatusToBeRevised, StatusDone}:       true,
	}
	for _, from := range CardStatuses {
		for _, to := range CardStatuses {
			want := allowed[[2]CardStatus{from, to}]
			assert.Equalf(t, want, from.CanMoveTo(to), "%s -> %s", from, to)
		}
	}
}

func TestParseCardStatus(t *testing.T) {
	got, ok := ParseCardStatus("inprogress")
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, got)

	got, ok = ParseCardStatus("TOBEREVISED")
	require.True(t, ok)
	assert.Equal(t, StatusToBeRevised, got)

	_, ok = ParseCardStatus("shipping")
	assert.False(t, ok)
	_, ok = ParseCardStatus("")
	assert.False(t, ok)
}

func TestNewCardStartsInTodo(t *testing.T) {
	card := NewCard("task1", "write the report")
	assert.Equal(t, StatusTodo, card.Status)
	assert.Empty(t, card.Movements)
}

func TestCardMoveAppendsHistory(t *testing.T) {
	card := NewCard("task1", "")
	now := time.Now()
	card.Move(StatusInProgress, now)

	assert.Equal(t, StatusInProgress, card.Status)
	require.Len(t, card.Movements, 1)
	assert.Equal(t, StatusTodo, card.Movements[0].From)
	assert.Equal(t, StatusInProgress, card.Movements[0].To)
}

func TestCardSummaryOmitsHistory(t *testing.T) {
	card := NewCard("task1", "desc")
	card.Move(StatusInProgress, time.Now())

	payload, err := json.Marshal(card.Summary())
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "movements")
}

func TestMovementJSONRoundTrip(t *testing.T) {
	when := time.Date(2024, 3, 15, 10, 30, 0, 0, time.Local)
	in := Movement{From: StatusTodo, To: StatusInProgress, When: when}

	payload, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(payload), "2024-03-15 10:30:00")

	var out Movement
	require.NoError(t, json.Unmarshal(payload, &out))
	assert.Equal(t, in.From, out.From)
	assert.Equal(t, in.To, out.To)
	assert.True(t, in.When.Equal(out.When))
}

func TestProjectCancelable(t *testing.T) {
	proj := NewProject("proj1", "alice", time.Now())
	assert.True(t, proj.Cancelable(), "empty project is cancelable")

	proj.StatusLists[StatusTodo] = append(proj.StatusLists[StatusTodo], "task1")
	assert.False(t, proj.Cancelable())

	proj.RemoveFromList(StatusTodo, "task1")
	proj.StatusLists[StatusDone] = append(proj.StatusLists[StatusDone], "task1")
	assert.True(t, proj.Cancelable(), "all-DONE project is cancelable")
}

func TestProjectMembership(t *testing.T) {
	proj := NewProject("proj1", "alice", time.Now())
	assert.Equal(t, []string{"alice"}, proj.Members, "creator is member 0")
	assert.True(t, proj.HasMember("alice"))
	assert.False(t, proj.HasMember("bob"))
}

func TestProjectCloneIsDeep(t *testing.T) {
	proj := NewProject("proj1", "alice", time.Now())
	proj.ChatAddress = "239.0.0.0"
	proj.ChatPort = 30000
	proj.StatusLists[StatusTodo] = append(proj.StatusLists[StatusTodo], "task1")

	clone := proj.Clone()
	proj.Members = append(proj.Members, "bob")
	proj.StatusLists[StatusTodo] = append(proj.StatusLists[StatusTodo], "task2")

	assert.Equal(t, []string{"alice"}, clone.Members)
	assert.Equal(t, []string{"task1"}, clone.StatusLists[StatusTodo])
	assert.Equal(t, "239.0.0.0", clone.ChatAddress)
	assert.Equal(t, 30000, clone.ChatPort)
}

func TestProjectChatFieldsNotPersisted(t *testing.T) {
	proj := NewProject("proj1", "alice", time.Now())
	proj.ChatAddress = "239.0.0.0"
	proj.ChatPort = 30000

	payload, err := json.Marshal(proj)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "239.0.0.0")
	assert.NotContains(t, string(payload), "30000")
}
