// Cardbox fill-in-the-blank game
//
// A prompt card is shown to the whole room, every player except the rotating
// judge submits one response card from a private hand, and the judge picks a
// winner from an anonymized, shuffled reveal. First to the point cap wins.
//
// Features:
// - One WebSocket endpoint per deployment: /game/ws
// - Rooms addressed by short human-friendly codes, shareable via QR
// - Host starts the game and picks maxPoints/handSize; 3+ players required
// - Hands are sent only to their owners, never in the broadcast snapshot
// - Judge-facing submissions are frozen in a shuffled order per round
// - Dropped players get a reconnect window before being removed for good
// - Rooms auto-reaped after a configurable idle timeout

package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

// ClientMessage is the closed set of inbound events. Type selects the
// operation; the other fields are populated per type.
type ClientMessage struct {
	Type      string    `json:"type"`                // "create_room", "join_room", "rejoin", "start_game", "play_card", "judge_select", "new_round"
	Nickname  string    `json:"nickname,omitempty"`  // create_room / join_room / rejoin
	RoomCode  string    `json:"roomCode,omitempty"`  // everything except create_room
	CardIndex *int      `json:"cardIndex,omitempty"` // play_card / judge_select
	Settings  *Settings `json:"settings,omitempty"`  // start_game
}

// RoomJoinedMessage confirms create/join/rejoin to the requesting client.
type RoomJoinedMessage struct {
	Type     string    `json:"type"` // "room_joined"
	RoomCode string    `json:"roomCode"`
	PlayerID string    `json:"playerId"`
	State    GameState `json:"state"`
}

// GameStateMessage is the broadcast snapshot wrapper.
type GameStateMessage struct {
	Type  string    `json:"type"` // "game_state"
	State GameState `json:"state"`
}

// HandMessage carries one player's private hand, only ever to its owner.
type HandMessage struct {
	Type  string   `json:"type"` // "hand"
	Cards []string `json:"cards"`
}

// RoundResultMessage announces the judge's pick to the whole room.
type RoundResultMessage struct {
	Type   string      `json:"type"` // "round_result"
	Result RoundResult `json:"result"`
}

// GameEndedMessage is the distinct "game ended" notice for teardown/abort,
// as opposed to a generic error.
type GameEndedMessage struct {
	Type     string `json:"type"` // "game_ended"
	Message  string `json:"message"`
	HostLeft bool   `json:"hostLeft,omitempty"`
}

// ErrorMessage is sent only to the client whose request failed.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type client struct {
	conn *websocket.Conn
	send chan any
	id   string
}

// gameServer bridges websocket connections and the GameManager: inbound
// messages become manager calls, results fan back out as per-room
// broadcasts or player-scoped sends.
type gameServer struct {
	cfg *Config
	gm  *GameManager

	mu      sync.Mutex
	clients map[string]*client
}

func newGameServer(cfg *Config, gm *GameManager) *gameServer {
	gs := &gameServer{
		cfg:     cfg,
		gm:      gm,
		clients: make(map[string]*client),
	}
	gm.setNotify(gs.handleRoomEvent)
	return gs
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (gs *gameServer) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("SERVE: websocket upgrade failed")
			return
		}

		c := &client{
			conn: conn,
			send: make(chan any, 8),
			id:   uuid.NewString(),
		}

		gs.mu.Lock()
		gs.clients[c.id] = c
		gs.mu.Unlock()

		log.Debug().Msgf("GAMES: Connection %s opened from %s", c.id, realIP(r))

		go c.writePump()
		gs.readPump(c)
	}
}

func (gs *gameServer) readPump(c *client) {
	defer func() {
		gs.dropClient(c)
		_ = c.conn.Close()

		for _, ev := range gs.gm.handleDisconnect(c.id) {
			gs.handleRoomEvent(ev)
		}
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		gs.dispatch(c, msg)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (gs *gameServer) dispatch(c *client, msg ClientMessage) {
	switch msg.Type {
	case "create_room":
		gs.handleCreate(c, msg)
	case "join_room":
		gs.handleJoin(c, msg)
	case "rejoin":
		gs.handleRejoin(c, msg)
	case "start_game":
		gs.handleStart(c, msg)
	case "play_card":
		gs.handlePlay(c, msg)
	case "judge_select":
		gs.handleJudgeSelect(c, msg)
	case "new_round":
		gs.handleNewRound(c, msg)
	default:
		// ignore unknown types
	}
}

func (gs *gameServer) handleCreate(c *client, msg ClientMessage) {
	code, state, err := gs.gm.createRoom(c.id, msg.Nickname)
	if err != nil {
		gs.sendError(c.id, err)
		return
	}

	gs.sendTo(c.id, RoomJoinedMessage{Type: "room_joined", RoomCode: code, PlayerID: c.id, State: state})
}

func (gs *gameServer) handleJoin(c *client, msg ClientMessage) {
	state, err := gs.gm.joinRoom(c.id, msg.Nickname, msg.RoomCode)
	if err != nil {
		gs.sendError(c.id, err)
		return
	}

	gs.sendTo(c.id, RoomJoinedMessage{Type: "room_joined", RoomCode: state.RoomCode, PlayerID: c.id, State: state})
	gs.broadcastState(state)
}

func (gs *gameServer) handleRejoin(c *client, msg ClientMessage) {
	state, hand, err := gs.gm.rejoin(c.id, msg.Nickname, msg.RoomCode)
	if err != nil {
		gs.sendError(c.id, err)
		return
	}

	gs.sendTo(c.id, RoomJoinedMessage{Type: "room_joined", RoomCode: state.RoomCode, PlayerID: c.id, State: state})
	if hand != nil {
		gs.sendTo(c.id, HandMessage{Type: "hand", Cards: hand})
	}
	gs.broadcastState(state)
}

func (gs *gameServer) handleStart(c *client, msg ClientMessage) {
	settings := defaultSettings()
	if msg.Settings != nil {
		settings = *msg.Settings
	}

	state, hands, err := gs.gm.startGame(msg.RoomCode, c.id, settings)
	if err != nil {
		gs.sendError(c.id, err)
		return
	}

	gs.broadcastState(state)
	for id, hand := range hands {
		gs.sendTo(id, HandMessage{Type: "hand", Cards: hand})
	}
}

func (gs *gameServer) handlePlay(c *client, msg ClientMessage) {
	if msg.CardIndex == nil {
		gs.sendError(c.id, ErrInvalidCardIndex)
		return
	}

	hand, state, err := gs.gm.playCard(msg.RoomCode, c.id, *msg.CardIndex)
	if err != nil {
		gs.sendError(c.id, err)
		return
	}

	gs.sendTo(c.id, HandMessage{Type: "hand", Cards: hand})
	gs.broadcastState(state)
}

func (gs *gameServer) handleJudgeSelect(c *client, msg ClientMessage) {
	if msg.CardIndex == nil {
		gs.sendError(c.id, ErrInvalidSelection)
		return
	}

	result, state, err := gs.gm.judgeSelect(msg.RoomCode, c.id, *msg.CardIndex)
	if err != nil {
		gs.sendError(c.id, err)
		return
	}

	gs.broadcastToRoom(state, RoundResultMessage{Type: "round_result", Result: result})
	gs.broadcastState(state)
}

func (gs *gameServer) handleNewRound(c *client, msg ClientMessage) {
	state, err := gs.gm.startNewRound(msg.RoomCode, c.id)
	if err != nil {
		gs.sendError(c.id, err)
		return
	}

	gs.broadcastState(state)
}

// handleRoomEvent fans asynchronous room changes (reconnect expiry, reaper)
// out to the affected connections.
func (gs *gameServer) handleRoomEvent(ev RoomEvent) {
	if ev.State == nil {
		return
	}

	if ev.TornDown || ev.Aborted {
		message := ev.Message
		if message == "" {
			message = "The game has ended."
		}
		gs.broadcastToRoom(*ev.State, GameEndedMessage{Type: "game_ended", Message: message, HostLeft: ev.HostLeft})
	}

	if !ev.TornDown {
		gs.broadcastState(*ev.State)
	}
}

func (gs *gameServer) broadcastState(state GameState) {
	gs.broadcastToRoom(state, GameStateMessage{Type: "game_state", State: state})
}

func (gs *gameServer) broadcastToRoom(state GameState, msg any) {
	for _, p := range state.Players {
		gs.sendTo(p.ID, msg)
	}
}

func (gs *gameServer) sendError(id string, err error) {
	gs.sendTo(id, ErrorMessage{Type: "error", Message: err.Error()})
}

// sendTo delivers to one connection, evicting clients whose send buffer is
// full rather than blocking the caller.
func (gs *gameServer) sendTo(id string, msg any) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	c, ok := gs.clients[id]
	if !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(gs.clients, id)
		close(c.send)
	}
}

func (gs *gameServer) dropClient(c *client) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if _, ok := gs.clients[c.id]; ok {
		delete(gs.clients, c.id)
		close(c.send)
	}
}

// serveRoomPage is a minimal landing page for QR-scanned room links.
func serveRoomPage(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := normalizeCode(ps.ByName("code"))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte(newPage("cardbox", "Room code: "+code)))
	}
}

// qrHandler generates a PNG QR code for the current room URL.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		code := ps.ByName("code")
		if code == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /room/:code/qr; strip trailing "/qr" to get the room URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)

		log.Debug().Msgf("SERVE: QR code for %s (%s) to %s in %s",
			url,
			humanReadableSize(int64(len(png))),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// registerCardGame sets up routes so that:
//   - /game/ws        → the game websocket
//   - /room/:code     → landing page for a shared room link
//   - /room/:code/qr  → PNG QR code for that room URL
//
// Room pages live under their own prefix because httprouter cannot mix a
// static child with a :code wildcard on the same segment.
func registerCardGame(cfg *Config, mux *httprouter.Router, gm *GameManager) {
	gs := newGameServer(cfg, gm)

	mux.GET(cfg.prefix+"/game/ws", gs.serveWS())
	mux.GET(cfg.prefix+"/room/:code", serveRoomPage(cfg))
	mux.GET(cfg.prefix+"/room/:code/qr", qrHandler(cfg))
}
