package main

import (
	"math/rand"
	"strings"
	"time"
)

// RoundStatus tracks the per-room state machine:
//
//	waiting --startGame--> playing
//	playing --(all non-judge players submitted)--> judging
//	judging --(judge picks a card)--> roundEnd
//	roundEnd --(winner reached maxPoints)--> gameOver
//	roundEnd --startNewRound--> playing
type RoundStatus string

const (
	StatusWaiting  RoundStatus = "waiting"
	StatusPlaying  RoundStatus = "playing"
	StatusJudging  RoundStatus = "judging"
	StatusRoundEnd RoundStatus = "roundEnd"
	StatusGameOver RoundStatus = "gameOver"
)

// Player is one connection's seat in a room. ID is the transport connection
// id and gets re-pointed when the same nickname rejoins after a drop.
type Player struct {
	ID        string
	Nickname  string
	Hand      []string
	Score     int
	Connected bool
}

// Submission pairs a played response card with its (hidden) owner.
type Submission struct {
	PlayerID string
	Card     string
}

// Settings are chosen by the host and frozen once the game starts.
type Settings struct {
	MaxPoints  int `json:"maxPoints"`
	MaxPlayers int `json:"maxPlayers"`
	HandSize   int `json:"handSize"`
}

func defaultSettings() Settings {
	return Settings{MaxPoints: 5, MaxPlayers: 10, HandSize: 7}
}

// Room is one isolated game. It is a plain state machine: no locking, no
// I/O. The GameManager serializes every call into it.
type Room struct {
	code     string
	hostID   string
	players  []*Player
	pool     *cardPool
	settings Settings

	gameStarted  bool
	currentRound int
	// judgeID is the stable judge reference; the roster index is only used
	// to advance rotation, so removals cannot silently change who judges.
	judgeID       string
	prompt        *PromptCard
	submissions   []Submission
	revealed      []Submission // frozen judge-facing order, set once per judging phase
	status        RoundStatus
	roundWinnerID string
	gameWinnerID  string

	createdAt  time.Time
	lastActive time.Time
}

func newRoom(code, hostID, hostNickname string, prompts []PromptCard, responses []string) *Room {
	now := time.Now()
	r := &Room{
		code:       code,
		hostID:     hostID,
		pool:       newCardPool(prompts, responses),
		settings:   defaultSettings(),
		status:     StatusWaiting,
		createdAt:  now,
		lastActive: now,
	}
	r.players = append(r.players, &Player{ID: hostID, Nickname: hostNickname, Connected: true})
	return r
}

func (r *Room) touch() {
	r.lastActive = time.Now()
}

func (r *Room) playerCount() int {
	return len(r.players)
}

func (r *Room) isFull() bool {
	return len(r.players) >= r.settings.MaxPlayers
}

func (r *Room) isHost(playerID string) bool {
	return r.hostID == playerID
}

func (r *Room) isJudge(playerID string) bool {
	return r.gameStarted && r.judgeID == playerID
}

func (r *Room) isNicknameTaken(nickname string) bool {
	return r.findByNickname(nickname) != nil
}

func (r *Room) findPlayer(playerID string) *Player {
	for _, p := range r.players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func (r *Room) findByNickname(nickname string) *Player {
	for _, p := range r.players {
		if strings.EqualFold(p.Nickname, nickname) {
			return p
		}
	}
	return nil
}

func (r *Room) addPlayer(playerID, nickname string) error {
	switch {
	case r.gameStarted:
		return ErrGameStarted
	case r.isFull():
		return ErrRoomFull
	case r.isNicknameTaken(nickname):
		return ErrNicknameTaken
	}

	r.players = append(r.players, &Player{ID: playerID, Nickname: nickname, Connected: true})
	return nil
}

// removePlayer drops a player, their pending submission, and their spot in
// the frozen judging view. The host role falls to the first remaining player
// and the judge role to whoever slid into the departed judge's rotation slot.
func (r *Room) removePlayer(playerID string) {
	idx := -1
	for i, p := range r.players {
		if p.ID == playerID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	removed := r.players[idx]
	r.pool.discardResponses(removed.Hand...)
	r.players = append(r.players[:idx], r.players[idx+1:]...)

	dropped := false
	for i, s := range r.submissions {
		if s.PlayerID == playerID {
			r.pool.discardResponses(s.Card)
			r.submissions = append(r.submissions[:i], r.submissions[i+1:]...)
			dropped = true
			break
		}
	}
	if dropped && r.revealed != nil {
		kept := r.revealed[:0]
		for _, s := range r.revealed {
			if s.PlayerID != playerID {
				kept = append(kept, s)
			}
		}
		r.revealed = kept
	}

	// If every submission belonged to departed players, a judging phase has
	// nothing left to judge; reopen the round instead of wedging.
	if r.status == StatusJudging && len(r.submissions) == 0 {
		r.revealed = nil
		r.status = StatusPlaying
	}

	if r.hostID == playerID && len(r.players) > 0 {
		r.hostID = r.players[0].ID
	}

	if r.gameStarted && r.judgeID == playerID && len(r.players) > 0 {
		r.judgeID = r.players[idx%len(r.players)].ID
	}
}

func (r *Room) startGame(s Settings) {
	if s.MaxPoints < 1 {
		s.MaxPoints = defaultSettings().MaxPoints
	}
	if s.HandSize < 1 {
		s.HandSize = defaultSettings().HandSize
	}
	if s.MaxPlayers < len(r.players) {
		s.MaxPlayers = max(len(r.players), defaultSettings().MaxPlayers)
	}
	r.settings = s

	r.gameStarted = true
	r.currentRound = 1
	r.judgeID = r.players[0].ID
	r.submissions = nil
	r.revealed = nil
	r.roundWinnerID = ""
	r.gameWinnerID = ""

	r.pool.shuffle()
	r.dealCards()
	r.drawPrompt()
	r.status = StatusPlaying
}

// dealCards tops every hand up to handSize. An exhausted pool leaves hands
// short rather than failing the deal.
func (r *Room) dealCards() {
	for _, p := range r.players {
		p.Hand = p.Hand[:0]
		for len(p.Hand) < r.settings.HandSize {
			card, ok := r.pool.drawResponse()
			if !ok {
				break
			}
			p.Hand = append(p.Hand, card)
		}
	}
}

func (r *Room) drawPrompt() {
	if r.prompt != nil {
		r.pool.discardPrompt(*r.prompt)
		r.prompt = nil
	}
	if card, ok := r.pool.drawPrompt(); ok {
		r.prompt = &card
	}
}

// playCard moves one card from a player's hand into the submission pile and
// draws a replacement when one is available. It never advances the round
// state; the caller checks allSubmitted afterwards.
func (r *Room) playCard(playerID string, cardIndex int) ([]string, error) {
	player := r.findPlayer(playerID)
	if player == nil {
		return nil, ErrPlayerNotFound
	}

	if r.hasSubmitted(playerID) {
		return nil, ErrAlreadyPlayed
	}

	if cardIndex < 0 || cardIndex >= len(player.Hand) {
		return nil, ErrInvalidCardIndex
	}

	card := player.Hand[cardIndex]
	player.Hand = append(player.Hand[:cardIndex], player.Hand[cardIndex+1:]...)
	r.submissions = append(r.submissions, Submission{PlayerID: playerID, Card: card})

	if replacement, ok := r.pool.drawResponse(); ok {
		player.Hand = append(player.Hand, replacement)
	}

	return append([]string(nil), player.Hand...), nil
}

// allSubmitted reports whether every connected non-judge player has played.
// A player inside their reconnect window does not hold up the round, but at
// least one submission must exist before judging can begin.
func (r *Room) allSubmitted() bool {
	if len(r.submissions) == 0 {
		return false
	}
	for _, p := range r.players {
		if p.ID == r.judgeID || !p.Connected {
			continue
		}
		if !r.hasSubmitted(p.ID) {
			return false
		}
	}
	return true
}

// beginJudging materializes the judge-facing order exactly once. The frozen
// copy is what judgeSelect indexes into, so the mapping between a display
// position and a player cannot shift between "show" and "resolve".
func (r *Room) beginJudging() {
	r.revealed = append([]Submission(nil), r.submissions...)
	rand.Shuffle(len(r.revealed), func(i, j int) {
		r.revealed[i], r.revealed[j] = r.revealed[j], r.revealed[i]
	})
	r.status = StatusJudging
}

// RoundResult is what the judge's choice resolves to.
type RoundResult struct {
	WinnerID   string `json:"winnerId"`
	Nickname   string `json:"nickname"`
	Card       string `json:"card"`
	Score      int    `json:"score"`
	GameOver   bool   `json:"gameOver"`
	GameWinner string `json:"gameWinner,omitempty"`
}

func (r *Room) judgeSelect(displayIndex int) (RoundResult, error) {
	if r.status != StatusJudging {
		return RoundResult{}, ErrNotJudgingPhase
	}
	if displayIndex < 0 || displayIndex >= len(r.revealed) {
		return RoundResult{}, ErrInvalidSelection
	}

	winning := r.revealed[displayIndex]
	winner := r.findPlayer(winning.PlayerID)
	if winner == nil {
		return RoundResult{}, ErrPlayerNotFound
	}

	winner.Score++
	r.roundWinnerID = winner.ID
	r.status = StatusRoundEnd

	result := RoundResult{
		WinnerID: winner.ID,
		Nickname: winner.Nickname,
		Card:     winning.Card,
		Score:    winner.Score,
	}

	if winner.Score >= r.settings.MaxPoints {
		r.gameWinnerID = winner.ID
		r.status = StatusGameOver
		result.GameOver = true
		result.GameWinner = winner.ID
	}

	return result, nil
}

// startNewRound advances the rotation. It only runs from roundEnd: calling
// it twice without an intervening judged round is rejected rather than
// silently advancing the judge again.
func (r *Room) startNewRound() error {
	switch r.status {
	case StatusGameOver:
		return ErrGameOver
	case StatusRoundEnd:
	default:
		return ErrRoundInProgress
	}

	for _, s := range r.submissions {
		r.pool.discardResponses(s.Card)
	}
	r.submissions = nil
	r.revealed = nil
	r.roundWinnerID = ""

	r.currentRound++
	for i, p := range r.players {
		if p.ID == r.judgeID {
			r.judgeID = r.players[(i+1)%len(r.players)].ID
			break
		}
	}

	r.drawPrompt()
	r.status = StatusPlaying
	return nil
}

// reassignID re-points every reference to a player's connection id after a
// rejoin: roster entry, host and judge roles, pending submissions, and the
// frozen judging view. Hand and score ride along untouched.
func (r *Room) reassignID(oldID, newID string) {
	p := r.findPlayer(oldID)
	if p == nil {
		return
	}
	p.ID = newID
	p.Connected = true

	if r.hostID == oldID {
		r.hostID = newID
	}
	if r.judgeID == oldID {
		r.judgeID = newID
	}
	if r.roundWinnerID == oldID {
		r.roundWinnerID = newID
	}
	if r.gameWinnerID == oldID {
		r.gameWinnerID = newID
	}
	for i := range r.submissions {
		if r.submissions[i].PlayerID == oldID {
			r.submissions[i].PlayerID = newID
		}
	}
	for i := range r.revealed {
		if r.revealed[i].PlayerID == oldID {
			r.revealed[i].PlayerID = newID
		}
	}
}

// abortGame returns the room to the lobby, e.g. after the roster drops below
// the minimum mid-game. Hands and scores are reset; the roster survives.
func (r *Room) abortGame() {
	for _, p := range r.players {
		r.pool.discardResponses(p.Hand...)
		p.Hand = nil
		p.Score = 0
	}
	for _, s := range r.submissions {
		r.pool.discardResponses(s.Card)
	}
	if r.prompt != nil {
		r.pool.discardPrompt(*r.prompt)
		r.prompt = nil
	}

	r.gameStarted = false
	r.currentRound = 0
	r.judgeID = ""
	r.submissions = nil
	r.revealed = nil
	r.roundWinnerID = ""
	r.gameWinnerID = ""
	r.status = StatusWaiting
}

// playedCount mirrors the completion rule: a player inside their reconnect
// window only counts toward the total if their card is already in, so the
// progress reads N/N exactly when the room flips to judging.
func (r *Room) playedCount() (played, total int) {
	for _, p := range r.players {
		if p.ID == r.judgeID {
			continue
		}
		if p.Connected || r.hasSubmitted(p.ID) {
			total++
		}
	}
	return len(r.submissions), total
}

func (r *Room) hasSubmitted(playerID string) bool {
	for _, s := range r.submissions {
		if s.PlayerID == playerID {
			return true
		}
	}
	return false
}

func (r *Room) handOf(playerID string) []string {
	p := r.findPlayer(playerID)
	if p == nil {
		return nil
	}
	return append([]string(nil), p.Hand...)
}

// PlayerInfo is the public slice of a player: never the hand.
type PlayerInfo struct {
	ID        string `json:"id"`
	Nickname  string `json:"nickname"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
}

// GameState is the broadcast snapshot. Hands are delivered separately to
// their owners, and submissions only appear once the judging view is frozen,
// in its anonymized order.
type GameState struct {
	RoomCode     string       `json:"roomCode"`
	HostID       string       `json:"hostId"`
	Players      []PlayerInfo `json:"players"`
	GameStarted  bool         `json:"gameStarted"`
	CurrentRound int          `json:"currentRound"`
	CurrentJudge string       `json:"currentJudge,omitempty"`
	PromptCard   *PromptCard  `json:"promptCard,omitempty"`
	Settings     Settings     `json:"settings"`
	RoundStatus  RoundStatus  `json:"roundStatus"`
	Submissions  []string     `json:"submissions,omitempty"`
	Played       int          `json:"played"`
	Total        int          `json:"total"`
	RoundWinner  string       `json:"roundWinner,omitempty"`
	GameOver     bool         `json:"gameOver"`
	GameWinner   string       `json:"gameWinner,omitempty"`
}

func (r *Room) snapshot() GameState {
	players := make([]PlayerInfo, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, PlayerInfo{
			ID:        p.ID,
			Nickname:  p.Nickname,
			Score:     p.Score,
			Connected: p.Connected,
		})
	}

	state := GameState{
		RoomCode:     r.code,
		HostID:       r.hostID,
		Players:      players,
		GameStarted:  r.gameStarted,
		CurrentRound: r.currentRound,
		CurrentJudge: r.judgeID,
		PromptCard:   r.prompt,
		Settings:     r.settings,
		RoundStatus:  r.status,
		RoundWinner:  r.roundWinnerID,
		GameOver:     r.status == StatusGameOver,
		GameWinner:   r.gameWinnerID,
	}
	state.Played, state.Total = r.playedCount()

	if r.status == StatusJudging || r.status == StatusRoundEnd || r.status == StatusGameOver {
		cards := make([]string, 0, len(r.revealed))
		for _, s := range r.revealed {
			cards = append(cards, s.Card)
		}
		state.Submissions = cards
	}

	return state
}
