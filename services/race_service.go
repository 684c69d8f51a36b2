package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sudokurace/models"
	"sudokurace/puzzle"
)

// Domain validation failures. These are reported to the caller and never
// leave the session in a partially mutated state.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionFull       = errors.New("session already has two players")
	ErrNotInProgress     = errors.New("race is not in progress")
	ErrOutOfRange        = errors.New("row, column or value out of range")
	ErrClueCell          = errors.New("clue cells cannot be changed")
	ErrIncorrectSolution = errors.New("board does not match the solution")
	ErrUnknownPlayer     = errors.New("player is not part of this session")
	ErrNeedBothPlayers   = errors.New("both players are needed for a rematch")
	ErrInvalidMove       = errors.New("move conflicts with digits already on the board")
)

// RaceService owns every state-mutating operation on a race session. All
// mutations run under an in-process per-session-code mutex plus a DB
// transaction, so operations on one session are strictly serialized and
// each either fully applies or leaves no trace. Broadcasting is the
// hub's job and always happens after the lock is released.
type RaceService struct {
	db    *gorm.DB
	redis *redis.Client // snapshot cache; nil disables caching

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// newCode produces candidate session codes; swappable in tests.
	newCode func() (string, error)
}

func NewRaceService(db *gorm.DB, redisClient *redis.Client) *RaceService {
	return &RaceService{
		db:      db,
		redis:   redisClient,
		locks:   make(map[string]*sync.Mutex),
		newCode: generateCode,
	}
}

// lockFor returns the mutex guarding the session with the given code.
// Sessions are independent, so there is no cross-session locking.
func (s *RaceService) lockFor(code string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[code]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[code] = l
	return l
}

// withSessionLock runs fn holding the session's exclusive lock, inside a
// transaction that loaded the authoritative row. The critical section is
// pure DB work; no network I/O happens under the lock.
func (s *RaceService) withSessionLock(code string, fn func(tx *gorm.DB, sess *models.RaceSession) error) error {
	code = strings.ToUpper(code)
	lock := s.lockFor(code)
	lock.Lock()
	defer lock.Unlock()

	return s.db.Transaction(func(tx *gorm.DB) error {
		var sess models.RaceSession
		if err := tx.Preload("PlayerA").Preload("PlayerB").
			Where("code = ?", code).First(&sess).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("load session %s: %w", code, err)
		}
		return fn(tx, &sess)
	})
}

// CreateSession generates a fresh puzzle and opens a session with the
// creator in the first seat, waiting for an opponent.
func (s *RaceService) CreateSession(userID uint, difficulty string) (*models.RaceSession, error) {
	diff := puzzle.ParseDifficulty(difficulty)
	clues, solution := puzzle.Generate(diff)

	sess := models.RaceSession{
		PlayerAID:  &userID,
		Clues:      clues,
		Solution:   solution,
		BoardA:     clues,
		BoardB:     clues,
		Difficulty: string(diff),
		Status:     models.StatusWaiting,
	}

	if err := s.createWithFreshCode(&sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	log.Info().Str("code", sess.Code).Str("difficulty", sess.Difficulty).
		Uint("player", userID).Msg("race session created")

	s.storeSnapshot(&sess)
	return &sess, nil
}

// GetSessionByCode looks up a session with its players and result.
// Lookups are read-only, so transient DB failures are retried a couple
// of times; mutating operations never are.
func (s *RaceService) GetSessionByCode(code string) (*models.RaceSession, error) {
	code = strings.ToUpper(code)
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var sess models.RaceSession
		err := s.db.Preload("PlayerA").Preload("PlayerB").Preload("Result").
			Where("code = ?", code).First(&sess).Error
		if err == nil {
			return &sess, nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		lastErr = err
	}
	return nil, fmt.Errorf("lookup session %s: %w", code, lastErr)
}

// ListOpenSessions returns sessions still waiting for a second player,
// newest first.
func (s *RaceService) ListOpenSessions() ([]models.RaceSession, error) {
	var sessions []models.RaceSession
	err := s.db.Preload("PlayerA").
		Where("status = ?", models.StatusWaiting).
		Order("created_at DESC").Limit(50).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	return sessions, nil
}

// JoinOutcome describes what Join did, so the caller can decide which
// broadcasts to send once the lock is gone.
type JoinOutcome struct {
	Session       *models.RaceSession
	Seated        bool // user newly took a seat
	Started       bool // this join filled the second seat and started the race
	AlreadySeated bool // idempotent reconnect
}

// Join seats the player. The first joiner takes seat A (waiting), the
// second takes seat B and immediately starts the clock: the session goes
// ready -> in_progress in the same atomic step, no explicit handshake.
// Re-joining a seat already held is a no-op success so reconnects are
// painless.
func (s *RaceService) Join(code string, userID uint) (*JoinOutcome, error) {
	outcome := &JoinOutcome{}
	err := s.withSessionLock(code, func(tx *gorm.DB, sess *models.RaceSession) error {
		if sess.HasPlayer(userID) {
			outcome.Session = sess
			outcome.AlreadySeated = true
			return nil
		}
		switch {
		case sess.PlayerAID == nil:
			// A session whose lone creator walked away is marked
			// abandoned with seat A vacated. Joining it by code revives
			// it as a fresh waiting lobby rather than forcing the
			// joiner to create a new one.
			sess.PlayerAID = &userID
			sess.Status = models.StatusWaiting
			sess.EndedAt = nil
			outcome.Seated = true
		case sess.PlayerBID == nil:
			sess.PlayerBID = &userID
			sess.Status = models.StatusReady
			// Auto-start: the moment both seats fill, the race is on.
			now := time.Now().UTC()
			sess.StartedAt = &now
			sess.Status = models.StatusInProgress
			outcome.Seated = true
			outcome.Started = true
		default:
			return ErrSessionFull
		}
		if err := tx.Omit(clause.Associations).Save(sess).Error; err != nil {
			return fmt.Errorf("save session %s: %w", sess.Code, err)
		}
		outcome.Session = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome.Seated {
		log.Info().Str("code", outcome.Session.Code).Uint("player", userID).
			Bool("started", outcome.Started).Msg("player joined race")
		s.storeSnapshot(outcome.Session)
	}
	return outcome, nil
}

// checkMove applies the validation ladder for a single placement against
// the authoritative session row.
func checkMove(sess *models.RaceSession, userID uint, row, col, value int) error {
	if sess.Status != models.StatusInProgress {
		return ErrNotInProgress
	}
	board := sess.BoardFor(userID)
	if board == nil {
		return ErrUnknownPlayer
	}
	if row < 0 || row > 8 || col < 0 || col > 8 || value < 1 || value > 9 {
		return ErrOutOfRange
	}
	if sess.Clues[row][col] != 0 {
		return ErrClueCell
	}
	if !puzzle.IsPlacementValid(*board, row, col, value) {
		return ErrInvalidMove
	}
	return nil
}

// ValidateMove checks a placement without recording anything.
func (s *RaceService) ValidateMove(code string, userID uint, row, col, value int) error {
	return s.withSessionLock(code, func(tx *gorm.DB, sess *models.RaceSession) error {
		return checkMove(sess, userID, row, col, value)
	})
}

// MoveOutcome carries the accepted move plus display data for the
// broadcast that follows.
type MoveOutcome struct {
	Move       models.Move
	PlayerName string
}

// RecordMove re-validates under the lock, appends the audit record and
// writes the value into the player's own board. The two boards are
// independent, so concurrent moves by the two players never touch each
// other's cells; the session lock still serializes them.
func (s *RaceService) RecordMove(code string, userID uint, row, col, value int) (*MoveOutcome, error) {
	outcome := &MoveOutcome{}
	var snap *models.RaceSession
	err := s.withSessionLock(code, func(tx *gorm.DB, sess *models.RaceSession) error {
		if err := checkMove(sess, userID, row, col, value); err != nil {
			return err
		}

		move := models.Move{
			SessionID: sess.ID,
			PlayerID:  userID,
			Row:       row,
			Col:       col,
			Value:     value,
		}
		if err := tx.Create(&move).Error; err != nil {
			return fmt.Errorf("record move: %w", err)
		}

		board := sess.BoardFor(userID)
		board[row][col] = value
		if err := tx.Omit(clause.Associations).Save(sess).Error; err != nil {
			return fmt.Errorf("save board: %w", err)
		}

		outcome.Move = move
		outcome.PlayerName = playerName(sess, userID)
		snap = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.storeSnapshot(snap)
	return outcome, nil
}

// TryCompleteRace resolves a win claim. The whole check-and-decide runs
// under the session lock, so two near-simultaneous submissions cannot
// both win: the first one creates the single RaceResult, the second (or
// a duplicate delivery of the first) gets the existing result back
// unchanged. An incorrect or incomplete board fails with
// ErrIncorrectSolution and leaves the race running.
func (s *RaceService) TryCompleteRace(code string, userID uint) (*models.RaceResult, error) {
	var result *models.RaceResult
	var snap *models.RaceSession
	err := s.withSessionLock(code, func(tx *gorm.DB, sess *models.RaceSession) error {
		// A result that already exists settles the race regardless of
		// who asks; duplicate submissions are answered idempotently.
		var existing models.RaceResult
		err := tx.Preload("Winner").Where("session_id = ?", sess.ID).First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load result: %w", err)
		}

		if sess.Status != models.StatusInProgress || sess.StartedAt == nil {
			return ErrNotInProgress
		}
		board := sess.BoardFor(userID)
		if board == nil {
			return ErrUnknownPlayer
		}
		if !puzzle.MatchesSolution(*board, sess.Solution) {
			return ErrIncorrectSolution
		}

		now := time.Now().UTC()
		elapsed := now.Sub(*sess.StartedAt)

		res := models.RaceResult{
			SessionID:  sess.ID,
			WinnerID:   userID,
			LoserID:    sess.OpponentID(userID),
			WinnerTime: elapsed,
			Difficulty: sess.Difficulty,
			ResultType: models.OutcomeCompletion,
		}
		if err := tx.Create(&res).Error; err != nil {
			return fmt.Errorf("create result: %w", err)
		}

		sess.WinnerID = &userID
		sess.Status = models.StatusFinished
		sess.EndedAt = &now
		if err := tx.Omit(clause.Associations).Save(sess).Error; err != nil {
			return fmt.Errorf("save session: %w", err)
		}

		if u := userOf(sess, userID); u != nil {
			res.Winner = *u
		}
		result = &res
		snap = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	if snap != nil {
		log.Info().Str("code", snap.Code).Uint("winner", userID).
			Dur("elapsed", result.WinnerTime).Msg("race finished")
		s.storeSnapshot(snap)
	}
	return result, nil
}

// AbandonOutcome reports what abandoning did: Forfeit is non-nil when a
// forfeit result was synthesized for the remaining player.
type AbandonOutcome struct {
	Session *models.RaceSession
	Forfeit *models.RaceResult
}

// MarkAbandoned ends the session because a player left. If both seats
// were filled and the race was ready or running, the remaining player
// wins by forfeit with a zero winning time. A lone creator leaving just
// vacates the seat. Terminal sessions are left untouched.
func (s *RaceService) MarkAbandoned(code string, leavingUserID uint, reason string) (*AbandonOutcome, error) {
	outcome := &AbandonOutcome{}
	err := s.withSessionLock(code, func(tx *gorm.DB, sess *models.RaceSession) error {
		if sess.Terminal() {
			outcome.Session = sess
			return nil
		}
		if !sess.HasPlayer(leavingUserID) {
			return ErrUnknownPlayer
		}

		bothSeated := sess.PlayerAID != nil && sess.PlayerBID != nil
		racing := sess.Status == models.StatusReady || sess.Status == models.StatusInProgress
		now := time.Now().UTC()

		if bothSeated && racing {
			remaining := sess.OpponentID(leavingUserID)
			res := models.RaceResult{
				SessionID:  sess.ID,
				WinnerID:   *remaining,
				LoserID:    &leavingUserID,
				WinnerTime: 0,
				Difficulty: sess.Difficulty,
				ResultType: models.OutcomeForfeit,
			}
			if err := tx.Create(&res).Error; err != nil {
				return fmt.Errorf("create forfeit result: %w", err)
			}
			sess.WinnerID = remaining
			if u := userOf(sess, *remaining); u != nil {
				res.Winner = *u
			}
			outcome.Forfeit = &res
		} else {
			// Nobody to penalize; just free the seat.
			if sess.PlayerAID != nil && *sess.PlayerAID == leavingUserID {
				sess.PlayerAID = nil
				sess.PlayerA = nil
			}
			if sess.PlayerBID != nil && *sess.PlayerBID == leavingUserID {
				sess.PlayerBID = nil
				sess.PlayerB = nil
			}
		}

		sess.Status = models.StatusAbandoned
		sess.EndedAt = &now
		if err := tx.Omit(clause.Associations).Save(sess).Error; err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		outcome.Session = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("code", outcome.Session.Code).Uint("player", leavingUserID).
		Str("reason", reason).Bool("forfeit", outcome.Forfeit != nil).
		Msg("race abandoned")
	s.storeSnapshot(outcome.Session)
	return outcome, nil
}

// CreateRematch builds a brand-new session for the two players of a
// finished one: fresh code, fresh puzzle, both seats pre-filled and the
// session ready to start on first contact.
func (s *RaceService) CreateRematch(previousCode string, difficulty string) (*models.RaceSession, error) {
	prev, err := s.GetSessionByCode(previousCode)
	if err != nil {
		return nil, err
	}
	if prev.PlayerAID == nil || prev.PlayerBID == nil {
		return nil, ErrNeedBothPlayers
	}

	diff := puzzle.ParseDifficulty(difficulty)
	clues, solution := puzzle.Generate(diff)

	sess := models.RaceSession{
		PlayerAID:  prev.PlayerAID,
		PlayerBID:  prev.PlayerBID,
		Clues:      clues,
		Solution:   solution,
		BoardA:     clues,
		BoardB:     clues,
		Difficulty: string(diff),
		Status:     models.StatusReady,
	}
	if err := s.createWithFreshCode(&sess); err != nil {
		return nil, fmt.Errorf("create rematch: %w", err)
	}

	log.Info().Str("previous", prev.Code).Str("code", sess.Code).
		Str("difficulty", sess.Difficulty).Msg("rematch created")
	s.storeSnapshot(&sess)
	return &sess, nil
}

func generateCode() (string, error) {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate session code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(bytes)), nil
}

// createWithFreshCode allocates a code not already taken and inserts the
// session under it. Collisions on eight hex chars are vanishingly rare,
// so a handful of attempts is plenty; the unique index on code remains
// the backstop against a check/insert race.
func (s *RaceService) createWithFreshCode(sess *models.RaceSession) error {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return err
		}
		var taken int64
		if err := s.db.Model(&models.RaceSession{}).Unscoped().
			Where("code = ?", code).Count(&taken).Error; err != nil {
			return fmt.Errorf("check code %s: %w", code, err)
		}
		if taken > 0 {
			continue
		}
		sess.Code = code
		return s.db.Create(sess).Error
	}
	return errors.New("could not allocate a unique session code")
}

func playerName(sess *models.RaceSession, userID uint) string {
	if u := userOf(sess, userID); u != nil {
		return u.Username
	}
	return ""
}

func userOf(sess *models.RaceSession, userID uint) *models.User {
	if sess.PlayerAID != nil && *sess.PlayerAID == userID && sess.PlayerA != nil {
		return sess.PlayerA
	}
	if sess.PlayerBID != nil && *sess.PlayerBID == userID && sess.PlayerB != nil {
		return sess.PlayerB
	}
	return nil
}

// --- snapshot cache ---------------------------------------------------
//
// The redis snapshot is a short-TTL display cache for state-sync reads
// on connect/reconnect. It is written after every mutation and read only
// by Snapshot; join, completion and abandonment always go through the
// locked DB row.

// SessionSnapshot is the displayable view of a session.
type SessionSnapshot struct {
	Code        string      `json:"code"`
	Status      string      `json:"status"`
	Difficulty  string      `json:"difficulty"`
	Clues       puzzle.Grid `json:"clues"`
	BoardA      puzzle.Grid `json:"board_a"`
	BoardB      puzzle.Grid `json:"board_b"`
	PlayerAID   *uint       `json:"player_a_id"`
	PlayerBID   *uint       `json:"player_b_id"`
	PlayerAName string      `json:"player_a_name,omitempty"`
	PlayerBName string      `json:"player_b_name,omitempty"`
	StartedAt   *time.Time  `json:"started_at"`
	WinnerID    *uint       `json:"winner_id"`
	CachedAt    time.Time   `json:"cached_at"`
}

func snapshotOf(sess *models.RaceSession) *SessionSnapshot {
	snap := &SessionSnapshot{
		Code:       sess.Code,
		Status:     sess.Status,
		Difficulty: sess.Difficulty,
		Clues:      sess.Clues,
		BoardA:     sess.BoardA,
		BoardB:     sess.BoardB,
		PlayerAID:  sess.PlayerAID,
		PlayerBID:  sess.PlayerBID,
		StartedAt:  sess.StartedAt,
		WinnerID:   sess.WinnerID,
		CachedAt:   time.Now().UTC(),
	}
	if sess.PlayerA != nil {
		snap.PlayerAName = sess.PlayerA.Username
	}
	if sess.PlayerB != nil {
		snap.PlayerBName = sess.PlayerB.Username
	}
	return snap
}

func (s *RaceService) storeSnapshot(sess *models.RaceSession) {
	if s.redis == nil || sess == nil {
		return
	}
	data, err := json.Marshal(snapshotOf(sess))
	if err != nil {
		log.Error().Err(err).Str("code", sess.Code).Msg("marshal snapshot")
		return
	}
	if err := s.redis.Set(context.Background(), "race:"+sess.Code, data, 2*time.Hour).Err(); err != nil {
		log.Warn().Err(err).Str("code", sess.Code).Msg("store snapshot")
	}
}

func (s *RaceService) cachedSnapshot(code string) *SessionSnapshot {
	if s.redis == nil {
		return nil
	}
	data, err := s.redis.Get(context.Background(), "race:"+strings.ToUpper(code)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("code", code).Msg("read snapshot")
		}
		return nil
	}
	var snap SessionSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		log.Warn().Err(err).Str("code", code).Msg("unmarshal snapshot")
		return nil
	}
	// Stale snapshots fall back to the DB; mutations rewrite the key so
	// staleness only happens around TTL expiry or redis restarts.
	if time.Since(snap.CachedAt) > 5*time.Second {
		return nil
	}
	return &snap
}

// Snapshot returns the display view of a session, preferring the cache
// and falling back to the database.
func (s *RaceService) Snapshot(code string) (*SessionSnapshot, error) {
	if snap := s.cachedSnapshot(code); snap != nil {
		return snap, nil
	}
	sess, err := s.GetSessionByCode(code)
	if err != nil {
		return nil, err
	}
	snap := snapshotOf(sess)
	s.storeSnapshot(sess)
	return snap, nil
}
