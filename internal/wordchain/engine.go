// Package wordchain runs per-chat word chain games: players take turns giving
// a word that starts with the last letter of the previous one, and a player
// who runs out of time is eliminated.
package wordchain

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chat-dispatch-bot/internal/msgcat"
	"github.com/park285/chat-dispatch-bot/internal/obslog"
)

var (
	ErrNoSession     = errors.New("wordchain: no session")
	ErrGameRunning   = errors.New("wordchain: game already running")
	ErrNotPlaying    = errors.New("wordchain: game not started")
	ErrAlreadyJoined = errors.New("wordchain: already joined")
	ErrLobbyFull     = errors.New("wordchain: lobby full")
	ErrNotEnough     = errors.New("wordchain: not enough players")
	ErrNotHost       = errors.New("wordchain: host or admin only")
	ErrNotYourTurn   = errors.New("wordchain: not your turn")
	ErrHasSpace      = errors.New("wordchain: word contains whitespace")
	ErrWrongLetter   = errors.New("wordchain: wrong starting letter")
	ErrUsed          = errors.New("wordchain: word already used")
	ErrNotAWord      = errors.New("wordchain: not a word")
)

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusPlaying Status = "playing"
)

type Player struct {
	ID   string
	Name string
}

func (p Player) label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Announcer posts engine-initiated messages (timeouts, game over) to a chat.
type Announcer func(ctx context.Context, chatID, text string) error

type Config struct {
	TurnTimeout       time.Duration
	MinPlayers        int
	MaxPlayers        int
	DictionaryTimeout time.Duration
	StartWords        []string
}

// DefaultConfig matches the production settings.
func DefaultConfig() Config {
	return Config{
		TurnTimeout:       30 * time.Second,
		MinPlayers:        2,
		MaxPlayers:        10,
		DictionaryTimeout: 5 * time.Second,
		StartWords:        []string{"apple", "river", "garden", "planet", "candle", "forest", "window", "silver"},
	}
}

type session struct {
	mu sync.Mutex

	id      string
	chatID  string
	host    Player
	status  Status
	players []Player
	turn    int
	word    string
	letter  string
	used    map[string]struct{}
	round   int

	timer  Timer
	seq    uint64
	closed bool
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID      string
	Status  Status
	Host    Player
	Players []Player
	Current Player
	Word    string
	Letter  string
	Round   int
}

type Options struct {
	Config     Config
	Dictionary Dictionary
	Clock      Clock
	Announce   Announcer
	Catalog    *msgcat.Catalog
	// Shuffle reorders players at start; nil uses math/rand.
	Shuffle func([]Player)
	Logger  *zap.Logger
}

// Engine owns every session. The engine lock guards the session map only;
// each session serializes its own mutations and timer callbacks.
type Engine struct {
	cfg      Config
	dict     Dictionary
	clock    Clock
	announce Announcer
	catalog  *msgcat.Catalog
	shuffle  func([]Player)
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewEngine(opts Options) *Engine {
	def := DefaultConfig()
	cfg := opts.Config
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = def.TurnTimeout
	}
	if cfg.MinPlayers < 2 {
		cfg.MinPlayers = def.MinPlayers
	}
	if cfg.MaxPlayers < cfg.MinPlayers {
		cfg.MaxPlayers = def.MaxPlayers
	}
	if cfg.DictionaryTimeout <= 0 {
		cfg.DictionaryTimeout = def.DictionaryTimeout
	}
	if len(cfg.StartWords) == 0 {
		cfg.StartWords = def.StartWords
	}
	e := &Engine{
		cfg:      cfg,
		dict:     opts.Dictionary,
		clock:    opts.Clock,
		announce: opts.Announce,
		catalog:  opts.Catalog,
		shuffle:  opts.Shuffle,
		logger:   obslog.Or(opts.Logger),
		sessions: make(map[string]*session),
	}
	if e.clock == nil {
		e.clock = realClock{}
	}
	if e.catalog == nil {
		e.catalog = msgcat.MustDefault()
	}
	if e.shuffle == nil {
		e.shuffle = func(p []Player) {
			rand.Shuffle(len(p), func(i, j int) { p[i], p[j] = p[j], p[i] })
		}
	}
	return e
}

func (e *Engine) lookup(chatID string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[chatID]
}

// locked returns the chat's live session with its lock held.
func (e *Engine) locked(chatID string) (*session, error) {
	s := e.lookup(chatID)
	if s == nil {
		return nil, ErrNoSession
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	return s, nil
}

// remove must be called with s.mu held.
func (e *Engine) remove(s *session) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.closed = true
	e.mu.Lock()
	if e.sessions[s.chatID] == s {
		delete(e.sessions, s.chatID)
	}
	e.mu.Unlock()
}

// Join adds p to the chat's lobby, creating it on first join with p as host.
func (e *Engine) Join(_ context.Context, chatID string, p Player) (Snapshot, error) {
	for {
		e.mu.Lock()
		s, ok := e.sessions[chatID]
		if !ok {
			s = &session{
				id:      uuid.NewString(),
				chatID:  chatID,
				host:    p,
				status:  StatusWaiting,
				players: []Player{p},
				used:    make(map[string]struct{}),
			}
			e.sessions[chatID] = s
			e.mu.Unlock()
			e.logger.Info("wordchain_created", zap.String("chat_id", chatID), zap.String("session_id", s.id), zap.String("host", p.ID))
			s.mu.Lock()
			snap := s.snapshot()
			s.mu.Unlock()
			return snap, nil
		}
		e.mu.Unlock()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		snap, err := e.addPlayer(s, p)
		s.mu.Unlock()
		return snap, err
	}
}

func (e *Engine) addPlayer(s *session, p Player) (Snapshot, error) {
	if s.status != StatusWaiting {
		return Snapshot{}, ErrGameRunning
	}
	for _, q := range s.players {
		if q.ID == p.ID {
			return Snapshot{}, ErrAlreadyJoined
		}
	}
	if len(s.players) >= e.cfg.MaxPlayers {
		return Snapshot{}, ErrLobbyFull
	}
	s.players = append(s.players, p)
	return s.snapshot(), nil
}

// Start shuffles the lobby, seeds the first word and arms the first turn.
func (e *Engine) Start(_ context.Context, chatID, callerID string, callerAdmin bool) (Snapshot, error) {
	s, err := e.locked(chatID)
	if err != nil {
		return Snapshot{}, err
	}
	defer s.mu.Unlock()

	if s.status != StatusWaiting {
		return Snapshot{}, ErrGameRunning
	}
	if s.host.ID != callerID && !callerAdmin {
		return Snapshot{}, ErrNotHost
	}
	if len(s.players) < e.cfg.MinPlayers {
		return Snapshot{}, ErrNotEnough
	}

	e.shuffle(s.players)
	seed := e.cfg.StartWords[rand.IntN(len(e.cfg.StartWords))]
	s.status = StatusPlaying
	s.turn = 0
	s.round = 1
	s.word = seed
	s.letter = lastLetter(seed)
	s.used[seed] = struct{}{}
	e.arm(s)

	e.logger.Info("wordchain_started", zap.String("chat_id", chatID), zap.String("session_id", s.id), zap.Int("players", len(s.players)))
	return s.snapshot(), nil
}

// Submit checks a word from playerID. Rejections return an error and leave
// the turn unchanged. The session is unlocked during the dictionary lookup; if
// the turn moved meanwhile the word is rejected with ErrNotYourTurn.
func (e *Engine) Submit(ctx context.Context, chatID, playerID, text string) (Snapshot, error) {
	s, err := e.locked(chatID)
	if err != nil {
		return Snapshot{}, err
	}
	word, seq, err := s.validate(playerID, text)
	s.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}

	if !e.checkWord(ctx, word) {
		return Snapshot{}, ErrNotAWord
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrNoSession
	}
	if s.seq != seq {
		return Snapshot{}, ErrNotYourTurn
	}
	if _, dup := s.used[word]; dup {
		return Snapshot{}, ErrUsed
	}

	s.used[word] = struct{}{}
	s.word = word
	if l := lastLetter(word); l != "" {
		s.letter = l
	}
	s.advance()
	e.arm(s)
	return s.snapshot(), nil
}

// validate runs the local checks and returns the normalized word with the
// current turn token. s.mu must be held.
func (s *session) validate(playerID, text string) (string, uint64, error) {
	if s.status != StatusPlaying {
		return "", 0, ErrNotPlaying
	}
	if s.players[s.turn].ID != playerID {
		return "", 0, ErrNotYourTurn
	}
	word := strings.ToLower(strings.TrimSpace(text))
	if word == "" || strings.IndexFunc(word, unicode.IsSpace) >= 0 {
		return "", 0, ErrHasSpace
	}
	if !strings.HasPrefix(word, s.letter) {
		return "", 0, ErrWrongLetter
	}
	if _, dup := s.used[word]; dup {
		return "", 0, ErrUsed
	}
	return word, s.seq, nil
}

// checkWord fails open: a lookup error accepts the word.
func (e *Engine) checkWord(ctx context.Context, word string) bool {
	if e.dict == nil {
		return true
	}
	dctx, cancel := context.WithTimeout(ctx, e.cfg.DictionaryTimeout)
	defer cancel()
	ok, err := e.dict.IsWord(dctx, word)
	if err != nil {
		e.logger.Warn("wordchain_dictionary_unavailable", zap.String("word", word), zap.Error(err))
		return true
	}
	return ok
}

// Outcome describes an elimination.
type Outcome struct {
	Eliminated Player
	Next       Player
	Letter     string
	Over       bool
	Winner     *Player
	Round      int
}

// Skip eliminates the player on turn at their own request.
func (e *Engine) Skip(_ context.Context, chatID, playerID string) (Outcome, error) {
	s, err := e.locked(chatID)
	if err != nil {
		return Outcome{}, err
	}
	defer s.mu.Unlock()
	if s.status != StatusPlaying {
		return Outcome{}, ErrNotPlaying
	}
	if s.players[s.turn].ID != playerID {
		return Outcome{}, ErrNotYourTurn
	}
	return e.eliminateCurrent(s), nil
}

// Stop ends the chat's session unconditionally; host or admin only.
func (e *Engine) Stop(_ context.Context, chatID, callerID string, callerAdmin bool) error {
	s, err := e.locked(chatID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if s.host.ID != callerID && !callerAdmin {
		return ErrNotHost
	}
	e.remove(s)
	e.logger.Info("wordchain_stopped", zap.String("chat_id", chatID), zap.String("session_id", s.id), zap.String("by", callerID))
	return nil
}

// Status returns a snapshot of the chat's session.
func (e *Engine) Status(chatID string) (Snapshot, bool) {
	s, err := e.locked(chatID)
	if err != nil {
		return Snapshot{}, false
	}
	defer s.mu.Unlock()
	return s.snapshot(), true
}

// Active returns the number of live sessions.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// arm cancels the previous turn timer and starts a new one. s.mu must be held.
func (e *Engine) arm(s *session) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.seq++
	seq := s.seq
	s.timer = e.clock.AfterFunc(e.cfg.TurnTimeout, func() { e.onTimeout(s, seq) })
}

func (e *Engine) onTimeout(s *session, seq uint64) {
	s.mu.Lock()
	if s.closed || s.seq != seq || s.status != StatusPlaying {
		s.mu.Unlock()
		return
	}
	out := e.eliminateCurrent(s)
	chatID := s.chatID
	s.mu.Unlock()

	e.logger.Info("wordchain_timeout", zap.String("chat_id", chatID), zap.String("player", out.Eliminated.ID))
	e.post(chatID, e.catalog.Text("wordchain.timeout", map[string]any{"Player": out.Eliminated.label()}, out.Eliminated.label()+" timed out."))
	e.post(chatID, e.describeOutcome(out))
}

// eliminateCurrent removes the player on turn, then ends the game or passes
// the turn and re-arms the timer. s.mu must be held.
func (e *Engine) eliminateCurrent(s *session) Outcome {
	out := Outcome{Eliminated: s.players[s.turn], Letter: s.letter, Round: s.round}
	s.players = append(s.players[:s.turn:s.turn], s.players[s.turn+1:]...)

	if len(s.players) <= 1 {
		if len(s.players) == 1 {
			w := s.players[0]
			out.Winner = &w
		}
		out.Over = true
		e.remove(s)
		e.logger.Info("wordchain_finished", zap.String("chat_id", s.chatID), zap.String("session_id", s.id), zap.Int("rounds", s.round))
		return out
	}

	if s.turn >= len(s.players) {
		s.turn = 0
		s.round++
	}
	out.Next = s.players[s.turn]
	out.Round = s.round
	e.arm(s)
	return out
}

func (e *Engine) post(chatID, text string) {
	if e.announce == nil || text == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.announce(ctx, chatID, text); err != nil {
		e.logger.Warn("wordchain_announce_failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (s *session) advance() {
	s.turn = (s.turn + 1) % len(s.players)
	if s.turn == 0 {
		s.round++
	}
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		ID:      s.id,
		Status:  s.status,
		Host:    s.host,
		Players: append([]Player(nil), s.players...),
		Word:    s.word,
		Letter:  s.letter,
		Round:   s.round,
	}
	if s.status == StatusPlaying && len(s.players) > 0 {
		snap.Current = s.players[s.turn]
	}
	return snap
}

func lastLetter(word string) string {
	runes := []rune(word)
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsLetter(runes[i]) {
			return string(unicode.ToLower(runes[i]))
		}
	}
	return ""
}
