package main

import "errors"

// Every failure a game operation can return. The websocket layer forwards
// these verbatim as user-facing text, so they are written as full sentences.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrGameStarted      = errors.New("the game has already started")
	ErrGameNotStarted   = errors.New("the game has not started yet")
	ErrGameOver         = errors.New("the game is already over")
	ErrRoomFull         = errors.New("the room is full")
	ErrNicknameTaken    = errors.New("that nickname is already taken")
	ErrEmptyNickname    = errors.New("a nickname is required")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrNotHost          = errors.New("only the host can start the game")
	ErrNotEnoughPlayers = errors.New("at least 3 players are needed to play")
	ErrNotJudge         = errors.New("only the judge can pick a winner")
	ErrJudgeCannotPlay  = errors.New("the judge cannot play a card this round")
	ErrAlreadyPlayed    = errors.New("you already played a card this round")
	ErrInvalidCardIndex = errors.New("invalid card index")
	ErrInvalidSelection = errors.New("invalid card selection")
	ErrNotJudgingPhase  = errors.New("it is not time to judge yet")
	ErrNotPlayingPhase  = errors.New("cards cannot be played right now")
	ErrRoundInProgress  = errors.New("the current round is still in progress")
)
