package main

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RoomEvent describes a room change that happened outside a client request,
// e.g. a reconnect window lapsing or the idle reaper firing. The transport
// layer turns these into notifications for the affected connections.
type RoomEvent struct {
	Code     string
	State    *GameState
	TornDown bool
	HostLeft bool
	Aborted  bool
	Message  string
}

// GameManager owns every room and the connection-id → room-code mapping.
// One mutex serializes all operations, so each room sees a strictly ordered
// event stream and the two maps never drift apart. Rooms themselves hold no
// locks.
type GameManager struct {
	mu        sync.Mutex
	rooms     map[string]*Room
	connRooms map[string]string

	prompts   []PromptCard
	responses []string
	newCode   CodeGenerator

	reconnectWindow time.Duration
	idleTimeout     time.Duration

	notify func(RoomEvent)
}

func newGameManager(prompts []PromptCard, responses []string, newCode CodeGenerator, reconnectWindow, idleTimeout time.Duration) *GameManager {
	gm := &GameManager{
		rooms:           make(map[string]*Room),
		connRooms:       make(map[string]string),
		prompts:         prompts,
		responses:       responses,
		newCode:         newCode,
		reconnectWindow: reconnectWindow,
		idleTimeout:     idleTimeout,
		notify:          func(RoomEvent) {},
	}
	if idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

// setNotify installs the callback for asynchronous room events. Must be set
// before any connections are accepted.
func (gm *GameManager) setNotify(fn func(RoomEvent)) {
	gm.notify = fn
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (gm *GameManager) createRoom(connID, nickname string) (string, GameState, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return "", GameState{}, ErrEmptyNickname
	}

	gm.mu.Lock()
	defer gm.mu.Unlock()

	var code string
	for {
		code = normalizeCode(gm.newCode())
		if _, exists := gm.rooms[code]; !exists {
			break
		}
	}

	room := newRoom(code, connID, nickname, gm.prompts, gm.responses)
	gm.rooms[code] = room
	gm.connRooms[connID] = code

	log.Debug().Msgf("GAMES: %q created room %s", nickname, code)

	return code, room.snapshot(), nil
}

func (gm *GameManager) joinRoom(connID, nickname, code string) (GameState, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return GameState{}, ErrEmptyNickname
	}

	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, ok := gm.rooms[normalizeCode(code)]
	if !ok {
		return GameState{}, ErrRoomNotFound
	}

	if err := room.addPlayer(connID, nickname); err != nil {
		return GameState{}, err
	}
	gm.connRooms[connID] = room.code
	room.touch()

	log.Debug().Msgf("GAMES: %q joined room %s", nickname, room.code)

	return room.snapshot(), nil
}

// rejoin is identity substitution, not an add: the existing seat (hand,
// score, host and judge roles) is re-pointed at the new connection id.
func (gm *GameManager) rejoin(connID, nickname, code string) (GameState, []string, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, ok := gm.rooms[normalizeCode(code)]
	if !ok {
		return GameState{}, nil, ErrRoomNotFound
	}

	player := room.findByNickname(nickname)
	if player == nil {
		return GameState{}, nil, ErrPlayerNotFound
	}

	// Rejoin is a recovery path, not a takeover: a seat whose connection is
	// still live cannot be claimed by someone who merely knows the nickname.
	if player.Connected {
		return GameState{}, nil, ErrNicknameTaken
	}

	delete(gm.connRooms, player.ID)
	room.reassignID(player.ID, connID)
	gm.connRooms[connID] = room.code
	room.touch()

	log.Debug().Msgf("GAMES: %q rejoined room %s", nickname, room.code)

	return room.snapshot(), room.handOf(connID), nil
}

func (gm *GameManager) startGame(code, connID string, settings Settings) (GameState, map[string][]string, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, ok := gm.rooms[normalizeCode(code)]
	if !ok {
		return GameState{}, nil, ErrRoomNotFound
	}

	switch {
	case room.gameStarted:
		return GameState{}, nil, ErrGameStarted
	case !room.isHost(connID):
		return GameState{}, nil, ErrNotHost
	case room.playerCount() < 3:
		return GameState{}, nil, ErrNotEnoughPlayers
	}

	room.startGame(settings)
	room.touch()

	hands := make(map[string][]string, room.playerCount())
	for _, p := range room.players {
		hands[p.ID] = append([]string(nil), p.Hand...)
	}

	log.Debug().Msgf("GAMES: Room %s started (maxPoints=%d, handSize=%d, players=%d)",
		room.code, room.settings.MaxPoints, room.settings.HandSize, room.playerCount())

	return room.snapshot(), hands, nil
}

func (gm *GameManager) playCard(code, connID string, cardIndex int) ([]string, GameState, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, ok := gm.rooms[normalizeCode(code)]
	if !ok {
		return nil, GameState{}, ErrRoomNotFound
	}

	switch {
	case !room.gameStarted:
		return nil, GameState{}, ErrGameNotStarted
	case room.status != StatusPlaying:
		return nil, GameState{}, ErrNotPlayingPhase
	case room.isJudge(connID):
		return nil, GameState{}, ErrJudgeCannotPlay
	}

	hand, err := room.playCard(connID, cardIndex)
	if err != nil {
		return nil, GameState{}, err
	}
	room.touch()

	if room.allSubmitted() {
		room.beginJudging()
		log.Debug().Msgf("GAMES: Room %s entered judging with %d submissions", room.code, len(room.revealed))
	}

	return hand, room.snapshot(), nil
}

func (gm *GameManager) judgeSelect(code, connID string, displayIndex int) (RoundResult, GameState, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, ok := gm.rooms[normalizeCode(code)]
	if !ok {
		return RoundResult{}, GameState{}, ErrRoomNotFound
	}

	switch {
	case !room.gameStarted:
		return RoundResult{}, GameState{}, ErrGameNotStarted
	case !room.isJudge(connID):
		return RoundResult{}, GameState{}, ErrNotJudge
	}

	result, err := room.judgeSelect(displayIndex)
	if err != nil {
		return RoundResult{}, GameState{}, err
	}
	room.touch()

	log.Debug().Msgf("GAMES: Room %s round %d won by %q (score=%d, gameOver=%t)",
		room.code, room.currentRound, result.Nickname, result.Score, result.GameOver)

	return result, room.snapshot(), nil
}

func (gm *GameManager) startNewRound(code, connID string) (GameState, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, ok := gm.rooms[normalizeCode(code)]
	if !ok {
		return GameState{}, ErrRoomNotFound
	}

	if !room.gameStarted {
		return GameState{}, ErrGameNotStarted
	}
	if room.findPlayer(connID) == nil {
		return GameState{}, ErrPlayerNotFound
	}

	if err := room.startNewRound(); err != nil {
		return GameState{}, err
	}
	room.touch()

	return room.snapshot(), nil
}

func (gm *GameManager) roomState(code string) (GameState, bool) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, ok := gm.rooms[normalizeCode(code)]
	if !ok {
		return GameState{}, false
	}
	return room.snapshot(), true
}

func (gm *GameManager) handOf(code, connID string) []string {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, ok := gm.rooms[normalizeCode(code)]
	if !ok {
		return nil
	}
	return room.handOf(connID)
}

// handleDisconnect marks the player disconnected and arms the reconnect
// window. With a zero window the removal happens immediately, which is also
// what the expiry path runs if no rejoin lands in time.
func (gm *GameManager) handleDisconnect(connID string) []RoomEvent {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	code, ok := gm.connRooms[connID]
	if !ok {
		return nil
	}
	room, ok := gm.rooms[code]
	if !ok {
		delete(gm.connRooms, connID)
		return nil
	}

	player := room.findPlayer(connID)
	if player == nil {
		delete(gm.connRooms, connID)
		return nil
	}

	if gm.reconnectWindow <= 0 {
		return gm.removeForGood(room, connID)
	}

	player.Connected = false
	room.touch()

	// A round should not wait on someone who may never come back.
	if room.status == StatusPlaying && room.allSubmitted() {
		room.beginJudging()
	}

	log.Debug().Msgf("GAMES: %q disconnected from room %s, reconnect window %s",
		player.Nickname, room.code, gm.reconnectWindow)

	time.AfterFunc(gm.reconnectWindow, func() {
		gm.expireDisconnect(room.code, connID)
	})

	state := room.snapshot()
	return []RoomEvent{{Code: room.code, State: &state}}
}

// expireDisconnect fires when a reconnect window lapses. A rejoin in the
// meantime re-pointed the seat to a new connection id, so the stale id no
// longer resolves and the expiry is a no-op.
func (gm *GameManager) expireDisconnect(code, connID string) {
	gm.mu.Lock()

	room, ok := gm.rooms[code]
	if !ok {
		gm.mu.Unlock()
		return
	}
	player := room.findPlayer(connID)
	if player == nil || player.Connected {
		gm.mu.Unlock()
		return
	}

	events := gm.removeForGood(room, connID)
	gm.mu.Unlock()

	for _, ev := range events {
		gm.notify(ev)
	}
}

// removeForGood applies the departure policy once a player is gone for
// certain: host departure tears the room down, an active game below 3
// players returns to the lobby, anyone else just leaves the roster.
// Callers hold gm.mu.
func (gm *GameManager) removeForGood(room *Room, connID string) []RoomEvent {
	wasHost := room.isHost(connID)
	wasStarted := room.gameStarted
	nickname := ""
	if p := room.findPlayer(connID); p != nil {
		nickname = p.Nickname
	}

	room.removePlayer(connID)
	delete(gm.connRooms, connID)

	if room.playerCount() == 0 {
		delete(gm.rooms, room.code)
		log.Debug().Msgf("GAMES: Room %s emptied and removed", room.code)
		return []RoomEvent{{Code: room.code, TornDown: true}}
	}

	if wasHost {
		gm.teardownLocked(room)
		state := room.snapshot()
		log.Debug().Msgf("GAMES: Host %q left, room %s torn down", nickname, room.code)
		return []RoomEvent{{
			Code:     room.code,
			State:    &state,
			TornDown: true,
			HostLeft: true,
			Message:  "The host left, so the game is over.",
		}}
	}

	if wasStarted && room.playerCount() < 3 {
		room.abortGame()
		state := room.snapshot()
		log.Debug().Msgf("GAMES: Room %s dropped below 3 players, game ended", room.code)
		return []RoomEvent{{
			Code:    room.code,
			State:   &state,
			Aborted: true,
			Message: "Not enough players left, the game has ended.",
		}}
	}

	if room.status == StatusPlaying && room.allSubmitted() {
		room.beginJudging()
	}

	state := room.snapshot()
	return []RoomEvent{{Code: room.code, State: &state}}
}

// teardownLocked removes a room and every connection mapping that points at
// it, in one critical section. Callers hold gm.mu.
func (gm *GameManager) teardownLocked(room *Room) {
	for _, p := range room.players {
		delete(gm.connRooms, p.ID)
	}
	delete(gm.rooms, room.code)
}

// reaperLoop periodically tears down rooms idle longer than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		var events []RoomEvent

		gm.mu.Lock()
		for _, room := range gm.rooms {
			if room.lastActive.Before(cutoff) {
				state := room.snapshot()
				gm.teardownLocked(room)
				log.Debug().Msgf("GAMES: Room %s reaped after %s idle", room.code, gm.idleTimeout)
				events = append(events, RoomEvent{
					Code:     room.code,
					State:    &state,
					TornDown: true,
					Message:  "The room timed out due to inactivity.",
				})
			}
		}
		gm.mu.Unlock()

		for _, ev := range events {
			gm.notify(ev)
		}
	}
}
