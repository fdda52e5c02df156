package main

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(reconnectWindow time.Duration) *GameManager {
	return newGameManager(testPrompts(40), testResponses(200), newCodeGenerator(5), reconnectWindow, 0)
}

// threePlayerRoom creates a room with Ada (host, conn "a"), Grace ("b") and
// Linus ("c") joined.
func threePlayerRoom(t *testing.T, gm *GameManager) string {
	t.Helper()

	code, state, err := gm.createRoom("a", "Ada")
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, state.RoundStatus)

	_, err = gm.joinRoom("b", "Grace", code)
	require.NoError(t, err)
	_, err = gm.joinRoom("c", "Linus", code)
	require.NoError(t, err)

	return code
}

func TestCreateRoom(t *testing.T) {
	gm := newTestManager(0)

	code, state, err := gm.createRoom("a", "Ada")
	require.NoError(t, err)

	assert.Len(t, code, 5)
	require.Len(t, state.Players, 1)
	assert.Equal(t, "Ada", state.Players[0].Nickname)
	assert.Zero(t, state.Players[0].Score)
	assert.Equal(t, "a", state.HostID)
	assert.Equal(t, StatusWaiting, state.RoundStatus)

	_, _, err = gm.createRoom("x", "")
	assert.ErrorIs(t, err, ErrEmptyNickname)
}

func TestJoinRoomCaseInsensitiveCode(t *testing.T) {
	gm := newTestManager(0)

	code, _, err := gm.createRoom("a", "Ada")
	require.NoError(t, err)

	// Codes are normalized on lookup, so however the player types it, it
	// still resolves.
	state, err := gm.joinRoom("b", "Grace", " "+strings.ToLower(code)+" ")
	require.NoError(t, err)
	assert.Len(t, state.Players, 2)
}

func TestJoinRoomFailures(t *testing.T) {
	gm := newTestManager(0)
	code := threePlayerRoom(t, gm)

	_, err := gm.joinRoom("x", "Margaret", "NOPE1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = gm.joinRoom("x", "grace", code)
	assert.ErrorIs(t, err, ErrNicknameTaken)

	for i := 0; i < 7; i++ {
		_, err = gm.joinRoom(fmt.Sprintf("extra-%d", i), fmt.Sprintf("Player%d", i), code)
		require.NoError(t, err)
	}
	_, err = gm.joinRoom("x", "Margaret", code)
	assert.ErrorIs(t, err, ErrRoomFull, "default settings cap the room at 10 players")
}

func TestJoinAfterStartRejected(t *testing.T) {
	gm := newTestManager(0)
	code := threePlayerRoom(t, gm)

	_, _, err := gm.startGame(code, "a", defaultSettings())
	require.NoError(t, err)

	_, err = gm.joinRoom("x", "Margaret", code)
	assert.ErrorIs(t, err, ErrGameStarted)
}

func TestStartGameAuthorization(t *testing.T) {
	gm := newTestManager(0)

	code, _, err := gm.createRoom("a", "Ada")
	require.NoError(t, err)
	_, err = gm.joinRoom("b", "Grace", code)
	require.NoError(t, err)

	_, _, err = gm.startGame(code, "a", defaultSettings())
	assert.ErrorIs(t, err, ErrNotEnoughPlayers)

	_, err = gm.joinRoom("c", "Linus", code)
	require.NoError(t, err)

	_, _, err = gm.startGame(code, "b", defaultSettings())
	assert.ErrorIs(t, err, ErrNotHost)

	_, _, err = gm.startGame(code, "a", defaultSettings())
	require.NoError(t, err)

	_, _, err = gm.startGame(code, "a", defaultSettings())
	assert.ErrorIs(t, err, ErrGameStarted)
}

func TestStartGameDealsHands(t *testing.T) {
	gm := newTestManager(0)
	code := threePlayerRoom(t, gm)

	state, hands, err := gm.startGame(code, "a", Settings{MaxPoints: 5, HandSize: 7})
	require.NoError(t, err)

	assert.Equal(t, StatusPlaying, state.RoundStatus)
	assert.Equal(t, 1, state.CurrentRound)
	assert.Equal(t, "a", state.CurrentJudge)
	require.NotNil(t, state.PromptCard)

	require.Len(t, hands, 3)
	for id, hand := range hands {
		assert.Len(t, hand, 7, "player %s hand", id)
	}
}

func TestFullRound(t *testing.T) {
	gm := newTestManager(0)
	code := threePlayerRoom(t, gm)

	_, _, err := gm.startGame(code, "a", Settings{MaxPoints: 5, HandSize: 7})
	require.NoError(t, err)

	// The judge cannot play, others can.
	_, _, err = gm.playCard(code, "a", 0)
	assert.ErrorIs(t, err, ErrJudgeCannotPlay)

	hand, state, err := gm.playCard(code, "b", 0)
	require.NoError(t, err)
	assert.Len(t, hand, 7)
	assert.Equal(t, StatusPlaying, state.RoundStatus)
	assert.Equal(t, 1, state.Played)

	_, state, err = gm.playCard(code, "c", 0)
	require.NoError(t, err)
	assert.Equal(t, StatusJudging, state.RoundStatus, "last submission flips the room into judging")
	assert.Len(t, state.Submissions, 2)

	// Now that judging started, nobody can play.
	_, _, err = gm.playCard(code, "b", 0)
	assert.ErrorIs(t, err, ErrNotPlayingPhase)

	// Only the judge picks.
	_, _, err = gm.judgeSelect(code, "b", 0)
	assert.ErrorIs(t, err, ErrNotJudge)

	result, state, err := gm.judgeSelect(code, "a", 0)
	require.NoError(t, err)
	assert.Contains(t, []string{"b", "c"}, result.WinnerID)
	assert.Equal(t, 1, result.Score)
	assert.Equal(t, result.WinnerID, state.RoundWinner)
	assert.Equal(t, StatusRoundEnd, state.RoundStatus)

	state, err = gm.startNewRound(code, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, state.CurrentRound)
	assert.Equal(t, "b", state.CurrentJudge, "judge advances in join order")
	assert.Empty(t, state.RoundWinner)
	assert.Equal(t, StatusPlaying, state.RoundStatus)
}

// winRoundAs drives one full round where the given player wins, reaching
// into the frozen reveal to find their card's display position.
func winRoundAs(t *testing.T, gm *GameManager, code, winnerID string) RoundResult {
	t.Helper()

	gm.mu.Lock()
	room := gm.rooms[code]
	judgeID := room.judgeID
	var playerIDs []string
	for _, p := range room.players {
		if p.ID != judgeID {
			playerIDs = append(playerIDs, p.ID)
		}
	}
	gm.mu.Unlock()

	require.NotEqual(t, judgeID, winnerID, "the judge cannot win a round")

	for _, id := range playerIDs {
		_, _, err := gm.playCard(code, id, 0)
		require.NoError(t, err)
	}

	gm.mu.Lock()
	displayIndex := -1
	for i, s := range room.revealed {
		if s.PlayerID == winnerID {
			displayIndex = i
			break
		}
	}
	gm.mu.Unlock()
	require.GreaterOrEqual(t, displayIndex, 0)

	result, _, err := gm.judgeSelect(code, judgeID, displayIndex)
	require.NoError(t, err)
	require.Equal(t, winnerID, result.WinnerID)

	return result
}

func TestRepeatedWinsEndTheGame(t *testing.T) {
	gm := newTestManager(0)
	code := threePlayerRoom(t, gm)

	_, _, err := gm.startGame(code, "a", Settings{MaxPoints: 3, HandSize: 7})
	require.NoError(t, err)

	result := winRoundAs(t, gm, code, "b")
	assert.False(t, result.GameOver)
	_, err = gm.startNewRound(code, "a")
	require.NoError(t, err)

	// Round 2: Grace ("b") judges, so Linus takes the win.
	result = winRoundAs(t, gm, code, "c")
	assert.False(t, result.GameOver)
	_, err = gm.startNewRound(code, "a")
	require.NoError(t, err)

	result = winRoundAs(t, gm, code, "b")
	assert.False(t, result.GameOver)
	_, err = gm.startNewRound(code, "a")
	require.NoError(t, err)

	result = winRoundAs(t, gm, code, "b")
	require.True(t, result.GameOver, "third win at maxPoints=3 ends the game")
	assert.Equal(t, "b", result.GameWinner)

	state, ok := gm.roomState(code)
	require.True(t, ok)
	assert.Equal(t, StatusGameOver, state.RoundStatus)
	assert.True(t, state.GameOver)
	assert.Equal(t, "b", state.GameWinner)

	_, err = gm.startNewRound(code, "a")
	assert.ErrorIs(t, err, ErrGameOver)
}

func TestRejoinPreservesSeat(t *testing.T) {
	gm := newTestManager(time.Hour)
	code := threePlayerRoom(t, gm)

	_, _, err := gm.startGame(code, "a", defaultSettings())
	require.NoError(t, err)

	handBefore, _, err := gm.playCard(code, "b", 0)
	require.NoError(t, err)

	events := gm.handleDisconnect("b")
	require.Len(t, events, 1)
	require.NotNil(t, events[0].State)
	assert.False(t, events[0].TornDown, "a drop inside the reconnect window is provisional")

	state, hand, err := gm.rejoin("b2", "GRACE", code)
	require.NoError(t, err)

	assert.Equal(t, handBefore, hand, "the hand survives a reconnect exactly")
	assert.Len(t, state.Players, 3)

	gm.mu.Lock()
	defer gm.mu.Unlock()
	room := gm.rooms[code]
	assert.Nil(t, room.findPlayer("b"))
	require.NotNil(t, room.findPlayer("b2"))
	assert.True(t, room.findPlayer("b2").Connected)
	assert.Equal(t, "b2", room.submissions[0].PlayerID)

	_, stale := gm.connRooms["b"]
	assert.False(t, stale, "the old connection mapping is removed")
	assert.Equal(t, code, gm.connRooms["b2"])
}

func TestRejoinRepointsHost(t *testing.T) {
	gm := newTestManager(time.Hour)
	code := threePlayerRoom(t, gm)

	gm.handleDisconnect("a")

	state, _, err := gm.rejoin("a2", "ada", code)
	require.NoError(t, err)
	assert.Equal(t, "a2", state.HostID)
}

func TestRejoinRequiresDisconnectedSeat(t *testing.T) {
	gm := newTestManager(time.Hour)
	code := threePlayerRoom(t, gm)

	_, _, err := gm.startGame(code, "a", defaultSettings())
	require.NoError(t, err)

	// Grace never dropped, so her seat (and hand) cannot be claimed by
	// someone who merely knows the room code and nickname.
	_, hand, err := gm.rejoin("intruder", "Grace", code)
	assert.ErrorIs(t, err, ErrNicknameTaken)
	assert.Nil(t, hand)

	gm.mu.Lock()
	defer gm.mu.Unlock()
	room := gm.rooms[code]
	require.NotNil(t, room.findPlayer("b"), "the live seat is untouched")
	_, mapped := gm.connRooms["intruder"]
	assert.False(t, mapped)
}

func TestRejoinFailures(t *testing.T) {
	gm := newTestManager(time.Hour)
	code := threePlayerRoom(t, gm)

	_, _, err := gm.rejoin("x", "Ada", "NOPE1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, _, err = gm.rejoin("x", "Margaret", code)
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestHostDisconnectTearsDownRoom(t *testing.T) {
	gm := newTestManager(0)
	code := threePlayerRoom(t, gm)

	events := gm.handleDisconnect("a")
	require.Len(t, events, 1)

	assert.True(t, events[0].TornDown)
	assert.True(t, events[0].HostLeft)
	require.NotNil(t, events[0].State)
	assert.Len(t, events[0].State.Players, 2, "remaining players get notified")

	_, ok := gm.roomState(code)
	assert.False(t, ok, "the room is gone")

	gm.mu.Lock()
	defer gm.mu.Unlock()
	assert.Empty(t, gm.connRooms, "no orphaned connection mappings survive teardown")
}

func TestDisconnectBelowMinimumEndsGame(t *testing.T) {
	gm := newTestManager(0)
	code := threePlayerRoom(t, gm)

	_, _, err := gm.startGame(code, "a", defaultSettings())
	require.NoError(t, err)

	events := gm.handleDisconnect("c")
	require.Len(t, events, 1)

	assert.True(t, events[0].Aborted)
	assert.False(t, events[0].TornDown)

	state, ok := gm.roomState(code)
	require.True(t, ok, "the room survives as a lobby")
	assert.False(t, state.GameStarted)
	assert.Equal(t, StatusWaiting, state.RoundStatus)
	assert.Len(t, state.Players, 2)
}

func TestDisconnectOfNonHostUpdatesRoster(t *testing.T) {
	gm := newTestManager(0)
	code := threePlayerRoom(t, gm)

	_, err := gm.joinRoom("d", "Margaret", code)
	require.NoError(t, err)
	_, _, err = gm.startGame(code, "a", defaultSettings())
	require.NoError(t, err)

	events := gm.handleDisconnect("d")
	require.Len(t, events, 1)

	assert.False(t, events[0].TornDown)
	assert.False(t, events[0].Aborted)
	require.NotNil(t, events[0].State)
	assert.Len(t, events[0].State.Players, 3)
}

func TestDisconnectCompletesSubmissionSet(t *testing.T) {
	gm := newTestManager(0)
	code := threePlayerRoom(t, gm)

	_, err := gm.joinRoom("d", "Margaret", code)
	require.NoError(t, err)
	_, _, err = gm.startGame(code, "a", defaultSettings())
	require.NoError(t, err)

	_, _, err = gm.playCard(code, "b", 0)
	require.NoError(t, err)
	_, _, err = gm.playCard(code, "c", 0)
	require.NoError(t, err)

	// Margaret drops without playing; the round should not wait on her.
	events := gm.handleDisconnect("d")
	require.Len(t, events, 1)
	require.NotNil(t, events[0].State)
	assert.Equal(t, StatusJudging, events[0].State.RoundStatus)
}

func TestDisconnectExpiryRemovesPlayer(t *testing.T) {
	gm := newTestManager(20 * time.Millisecond)
	code := threePlayerRoom(t, gm)

	notified := make(chan RoomEvent, 8)
	gm.setNotify(func(ev RoomEvent) { notified <- ev })

	_, err := gm.joinRoom("d", "Margaret", code)
	require.NoError(t, err)

	events := gm.handleDisconnect("d")
	require.Len(t, events, 1)
	state, ok := gm.roomState(code)
	require.True(t, ok)
	assert.Len(t, state.Players, 4, "still seated during the reconnect window")

	require.Eventually(t, func() bool {
		state, ok := gm.roomState(code)
		return ok && len(state.Players) == 3
	}, time.Second, 5*time.Millisecond, "expiry removes the player for good")

	select {
	case ev := <-notified:
		assert.Equal(t, code, ev.Code)
	case <-time.After(time.Second):
		t.Fatal("no room event delivered on expiry")
	}
}

func TestJudgingRecoversWhenLastSubmitterExpires(t *testing.T) {
	gm := newTestManager(20 * time.Millisecond)
	code := threePlayerRoom(t, gm)

	_, err := gm.joinRoom("d", "Margaret", code)
	require.NoError(t, err)
	_, _, err = gm.startGame(code, "a", defaultSettings())
	require.NoError(t, err)

	gm.handleDisconnect("b")
	gm.handleDisconnect("c")

	// Margaret's lone card completes the submission set.
	_, state, err := gm.playCard(code, "d", 0)
	require.NoError(t, err)
	require.Equal(t, StatusJudging, state.RoundStatus)

	_, _, err = gm.rejoin("b2", "Grace", code)
	require.NoError(t, err)
	_, _, err = gm.rejoin("c2", "Linus", code)
	require.NoError(t, err)

	// Margaret never comes back; her window lapses and takes the only
	// submission with her.
	gm.handleDisconnect("d")
	require.Eventually(t, func() bool {
		state, ok := gm.roomState(code)
		return ok && len(state.Players) == 3
	}, time.Second, 5*time.Millisecond, "expiry removes the lone submitter")

	state, ok := gm.roomState(code)
	require.True(t, ok)
	assert.Equal(t, StatusPlaying, state.RoundStatus, "the round reopens instead of wedging in judging")
	assert.Empty(t, state.Submissions)

	// The reopened round is fully playable through to judging.
	_, _, err = gm.playCard(code, "b2", 0)
	require.NoError(t, err)
	_, state, err = gm.playCard(code, "c2", 0)
	require.NoError(t, err)
	assert.Equal(t, StatusJudging, state.RoundStatus)
}

func TestRejoinCancelsExpiry(t *testing.T) {
	gm := newTestManager(20 * time.Millisecond)
	code := threePlayerRoom(t, gm)

	gm.handleDisconnect("b")

	_, _, err := gm.rejoin("b2", "Grace", code)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	state, ok := gm.roomState(code)
	require.True(t, ok)
	assert.Len(t, state.Players, 3, "a rejoin within the window keeps the seat")
}

func TestDisconnectUnknownConnection(t *testing.T) {
	gm := newTestManager(0)

	assert.Empty(t, gm.handleDisconnect("nobody"))
}

func TestConnRoomsStaysInLockstep(t *testing.T) {
	gm := newTestManager(0)
	code := threePlayerRoom(t, gm)

	gm.mu.Lock()
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, code, gm.connRooms[id])
	}
	gm.mu.Unlock()

	gm.handleDisconnect("b")

	gm.mu.Lock()
	defer gm.mu.Unlock()
	_, ok := gm.connRooms["b"]
	assert.False(t, ok)
	assert.Nil(t, gm.rooms[code].findPlayer("b"))
}
