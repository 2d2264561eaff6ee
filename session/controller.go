// Package session drives one live view of a board: loading, edit tracking,
// debounced persistence, and the realtime channel. It is headless; a UI (or a
// test) feeds it edits and observes it through callbacks.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"boardsync/core"
	"boardsync/drafts"
	"boardsync/scene"
	"boardsync/thumbnail"
	"boardsync/transport"

	"github.com/sirupsen/logrus"
)

// NewBoardID is the pseudo-id that asks Load to create a fresh board instead
// of fetching one.
const NewBoardID = "new"

// ErrSignInRequired is returned by ManualSave when the caller is a guest.
// The draft has been cached locally; signing in and reloading picks it up.
var ErrSignInRequired = errors.New("sign in required to save")

type State string

const (
	StateLoading      State = "loading"
	StateReady        State = "ready"
	StateGuestDraft   State = "guest-draft"
	StateNotFound     State = "not-found"
	StateAccessDenied State = "access-denied"
)

// terminal reports whether the session can never leave this state.
func (s State) terminal() bool {
	return s == StateNotFound || s == StateAccessDenied
}

type SaveStatus string

const (
	StatusSaved   SaveStatus = "saved"
	StatusUnsaved SaveStatus = "unsaved"
	StatusSaving  SaveStatus = "saving"
	StatusError   SaveStatus = "error"
)

// Backend is the server surface the session needs. client.HTTP implements it;
// tests substitute fakes.
type Backend interface {
	CreateBoard(ctx context.Context, title string) (*core.Board, error)
	GetBoard(ctx context.Context, id string) (*core.Board, error)
	UpdateBoard(ctx context.Context, id string, upd core.BoardUpdate) error
	SaveArtboard(ctx context.Context, boardID, artboardID string, snapshot []byte) error
	ForkBoard(ctx context.Context, id string, snapshot []byte) (*core.Board, error)

	// CurrentUser returns (nil, nil) for an anonymous caller.
	CurrentUser(ctx context.Context) (*core.User, error)
}

// Config wires a controller. Backend is required; everything else degrades:
// no Transport means no live collaboration, no Drafts means guest work is
// lost on exit, no Thumbnails means boards keep their old preview.
type Config struct {
	Backend    Backend
	Transport  transport.Transport
	Drafts     drafts.Cache
	Thumbnails thumbnail.Renderer

	// QuietPeriod is how long edits must pause before a save fires.
	QuietPeriod time.Duration
	// SceneThrottle caps full-scene broadcasts; PointerThrottle caps
	// pointer broadcasts. Peers only ever need the latest of either.
	SceneThrottle   time.Duration
	PointerThrottle time.Duration

	// OnSceneReplaced fires when a peer's scene overwrites the local one.
	OnSceneReplaced func(scene.Scene)
	// OnPeerPointer fires for peer pointer positions.
	OnPeerPointer func(x, y float64)
	// OnStatusChange fires on every state or save-status transition.
	OnStatusChange func(State, SaveStatus)
}

// Controller is the session state machine. All exported methods are safe for
// concurrent use.
type Controller struct {
	cfg Config

	mu         sync.Mutex
	state      State
	status     SaveStatus
	board      *core.Board
	artboardID string
	user       *core.User
	readOnly   bool
	scn        scene.Scene
	dirty      bool
	everDrew   bool
	closed     bool

	timer         *time.Timer
	conn          transport.Conn
	lastSceneSent time.Time
	lastPointer   time.Time
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.QuietPeriod <= 0 {
		cfg.QuietPeriod = 500 * time.Millisecond
	}
	if cfg.SceneThrottle <= 0 {
		cfg.SceneThrottle = 500 * time.Millisecond
	}
	if cfg.PointerThrottle <= 0 {
		cfg.PointerThrottle = 200 * time.Millisecond
	}
	return &Controller{
		cfg:    cfg,
		state:  StateLoading,
		status: StatusSaved,
		scn:    scene.Scene{Elements: []scene.Element{}},
	}, nil
}

// Load resolves the caller and the board and moves the session out of
// Loading. Pass NewBoardID to create a fresh board; a guest asking for a
// fresh board lands in GuestDraft instead, with any cached draft restored.
func (c *Controller) Load(ctx context.Context, boardID string) error {
	user, err := c.cfg.Backend.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("resolve current user: %w", err)
	}

	if boardID == NewBoardID {
		return c.loadNew(ctx, user)
	}
	return c.loadExisting(ctx, user, boardID)
}

func (c *Controller) loadNew(ctx context.Context, user *core.User) error {
	draft := c.restoreDraft()

	if user == nil {
		c.mu.Lock()
		c.user = nil
		c.scn = draft
		c.everDrew = len(draft.Elements) > 0
		c.mu.Unlock()
		c.transition(StateGuestDraft, StatusUnsaved)
		return nil
	}

	board, err := c.cfg.Backend.CreateBoard(ctx, "")
	if err != nil {
		if errors.Is(err, core.ErrUnauthorized) {
			// Token went stale between CurrentUser and here.
			c.mu.Lock()
			c.user = nil
			c.scn = draft
			c.everDrew = len(draft.Elements) > 0
			c.mu.Unlock()
			c.transition(StateGuestDraft, StatusUnsaved)
			return nil
		}
		return fmt.Errorf("create board: %w", err)
	}
	if len(board.Artboards) == 0 {
		return fmt.Errorf("board %s has no artboard", board.ID)
	}

	artboardID := board.Artboards[0].ID
	c.mu.Lock()
	c.user = user
	c.board = board
	c.artboardID = artboardID
	c.scn = draft
	c.everDrew = len(draft.Elements) > 0
	c.readOnly = false
	c.mu.Unlock()

	status := StatusSaved
	if len(draft.Elements) > 0 {
		// The guest's draft becomes the new board's first saved snapshot.
		if err := c.persistScene(ctx, board.ID, artboardID, draft); err != nil {
			logrus.WithError(err).Warn("Failed to persist restored draft")
			status = StatusError
		} else {
			c.clearDraft()
		}
	}

	c.subscribe(board.ID)
	c.transition(StateReady, status)
	return nil
}

func (c *Controller) loadExisting(ctx context.Context, user *core.User, boardID string) error {
	board, err := c.cfg.Backend.GetBoard(ctx, boardID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrNotFound):
			c.transition(StateNotFound, StatusSaved)
			return nil
		case errors.Is(err, core.ErrForbidden), errors.Is(err, core.ErrUnauthorized):
			c.transition(StateAccessDenied, StatusSaved)
			return nil
		}
		return fmt.Errorf("get board %s: %w", boardID, err)
	}
	if len(board.Artboards) == 0 {
		return fmt.Errorf("board %s has no artboard", board.ID)
	}

	s, _, err := scene.Normalize(board.Artboards[0].Snapshot)
	if err != nil {
		// A corrupt snapshot must not brick the board.
		logrus.WithError(err).WithField("board_id", board.ID).Warn("Snapshot unreadable, starting empty")
		s = scene.Scene{Elements: []scene.Element{}}
	}

	c.mu.Lock()
	c.user = user
	c.board = board
	c.artboardID = board.Artboards[0].ID
	c.scn = s
	c.everDrew = false
	c.readOnly = user == nil || user.Subject != board.OwnerID
	c.mu.Unlock()

	c.subscribe(board.ID)
	c.transition(StateReady, StatusSaved)
	return nil
}

func (c *Controller) subscribe(boardID string) {
	if c.cfg.Transport == nil {
		return
	}
	conn, err := c.cfg.Transport.Subscribe(context.Background(), boardID, c.handleRemote)
	if err != nil {
		logrus.WithError(err).WithField("board_id", boardID).Warn("Realtime channel unavailable")
		return
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// OnSceneChange is the edit entry point: the drawing surface hands over its
// full current state after every change. An empty scene before anything was
// ever drawn is the surface's own load echo and is dropped, so opening a
// board can never wipe it.
func (c *Controller) OnSceneChange(elements []scene.Element, viewState map[string]any) {
	c.mu.Lock()
	if c.closed || c.state == StateLoading || c.state.terminal() || c.readOnly {
		c.mu.Unlock()
		return
	}
	if len(elements) == 0 && !c.everDrew {
		c.mu.Unlock()
		return
	}

	c.scn = scene.Scene{Elements: elements, ViewState: viewState}
	if len(elements) > 0 {
		c.everDrew = true
	}
	c.dirty = true
	changed := c.setStatusLocked(StatusUnsaved)
	c.restartTimerLocked()

	var msg *transport.Message
	now := time.Now()
	if c.conn != nil && now.Sub(c.lastSceneSent) >= c.cfg.SceneThrottle {
		c.lastSceneSent = now
		msg = &transport.Message{
			Kind:            transport.KindSceneChanged,
			Elements:        elements,
			BackgroundColor: scene.BackgroundColor(viewState),
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if changed {
		c.notify()
	}
	if msg != nil {
		if err := conn.Publish(context.Background(), *msg); err != nil {
			logrus.WithError(err).Debug("Scene broadcast failed")
		}
	}
}

// ToggleGrid flips the grid preference. It goes through the normal edit path
// so it debounces and persists like any other change.
func (c *Controller) ToggleGrid() {
	c.mu.Lock()
	if c.closed || c.state == StateLoading || c.state.terminal() || c.readOnly {
		c.mu.Unlock()
		return
	}
	vs := cloneViewState(c.scn.ViewState)
	if _, on := vs["gridSize"]; on {
		delete(vs, "gridSize")
	} else {
		vs["gridSize"] = 20
	}
	c.scn.ViewState = vs
	c.dirty = true
	changed := c.setStatusLocked(StatusUnsaved)
	c.restartTimerLocked()
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// OnPointerMove broadcasts the local pointer position, throttled. Pointer
// positions never touch persistence.
func (c *Controller) OnPointerMove(x, y float64) {
	c.mu.Lock()
	conn := c.conn
	now := time.Now()
	if conn == nil || now.Sub(c.lastPointer) < c.cfg.PointerThrottle {
		c.mu.Unlock()
		return
	}
	c.lastPointer = now
	c.mu.Unlock()

	msg := transport.Message{Kind: transport.KindPointerMoved, X: x, Y: y}
	if err := conn.Publish(context.Background(), msg); err != nil {
		logrus.WithError(err).Debug("Pointer broadcast failed")
	}
}

// handleRemote applies peer messages. A peer's scene replaces the local one
// wholesale: with no ordering guarantees the last physical delivery wins.
func (c *Controller) handleRemote(msg transport.Message) {
	switch msg.Kind {
	case transport.KindSceneChanged:
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		vs := cloneViewState(c.scn.ViewState)
		if msg.BackgroundColor != "" {
			vs["viewBackgroundColor"] = msg.BackgroundColor
		}
		c.scn = scene.Scene{Elements: msg.Elements, ViewState: vs}
		if len(msg.Elements) > 0 {
			c.everDrew = true
		}
		s := c.scn
		cb := c.cfg.OnSceneReplaced
		c.mu.Unlock()
		if cb != nil {
			cb(s)
		}
	case transport.KindPointerMoved:
		if cb := c.cfg.OnPeerPointer; cb != nil {
			cb(msg.X, msg.Y)
		}
	}
}

// ManualSave saves immediately, bypassing the quiet period. For a guest it
// writes the local draft cache and reports ErrSignInRequired so the caller
// can prompt for login.
func (c *Controller) ManualSave(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateGuestDraft {
		s := c.scn
		c.mu.Unlock()
		if c.cfg.Drafts != nil {
			data, err := scene.Marshal(s)
			if err != nil {
				return err
			}
			if err := c.cfg.Drafts.Store(data); err != nil {
				return fmt.Errorf("cache draft: %w", err)
			}
		}
		return ErrSignInRequired
	}
	if c.state != StateReady || c.readOnly {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.mu.Unlock()

	return c.flush(ctx)
}

// Rename updates the title optimistically: the local copy changes at once and
// the backend write happens in the background. On failure the local value is
// kept; the next full load shows the truth.
func (c *Controller) Rename(title string) {
	c.mu.Lock()
	if c.board == nil || c.readOnly {
		c.mu.Unlock()
		return
	}
	c.board.Title = title
	boardID := c.board.ID
	c.mu.Unlock()

	go func() {
		err := c.cfg.Backend.UpdateBoard(context.Background(), boardID, core.BoardUpdate{Title: &title})
		if err != nil {
			logrus.WithError(err).WithField("board_id", boardID).Warn("Rename not persisted")
		}
	}()
}

// SetVisibility flips the board between private and public, optimistically
// like Rename.
func (c *Controller) SetVisibility(v core.Visibility) {
	if !v.Valid() {
		return
	}
	c.mu.Lock()
	if c.board == nil || c.readOnly {
		c.mu.Unlock()
		return
	}
	c.board.Visibility = v
	boardID := c.board.ID
	c.mu.Unlock()

	go func() {
		err := c.cfg.Backend.UpdateBoard(context.Background(), boardID, core.BoardUpdate{Visibility: &v})
		if err != nil {
			logrus.WithError(err).WithField("board_id", boardID).Warn("Visibility change not persisted")
		}
	}()
}

// Fork copies the current board, seeded with the live scene, and returns the
// new board. The session keeps pointing at the original.
func (c *Controller) Fork(ctx context.Context) (*core.Board, error) {
	c.mu.Lock()
	if c.board == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("no board loaded")
	}
	boardID := c.board.ID
	s := c.scn
	c.mu.Unlock()

	snapshot, err := scene.Marshal(scene.Scene{
		Elements:  s.Elements,
		ViewState: scene.PersistedViewState(s.ViewState),
	})
	if err != nil {
		return nil, err
	}
	return c.cfg.Backend.ForkBoard(ctx, boardID, snapshot)
}

// Close flushes pending work and tears the session down. Safe to call twice.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	dirty := c.dirty && c.state == StateReady && !c.readOnly
	guestDirty := c.dirty && c.state == StateGuestDraft
	conn := c.conn
	c.closed = true
	c.mu.Unlock()

	var err error
	if dirty {
		err = c.flushClosed()
	}
	if guestDirty {
		c.cacheGuestDraft()
	}
	if conn != nil {
		_ = conn.Close()
	}
	return err
}

// flushClosed runs the final save after closed is set; flush itself refuses
// to run on a closed controller.
func (c *Controller) flushClosed() error {
	c.mu.Lock()
	boardID := c.board.ID
	artboardID := c.artboardID
	s := c.scn
	c.dirty = false
	c.mu.Unlock()
	if len(s.Elements) == 0 || scene.AllDeleted(s.Elements) {
		return nil
	}
	return c.persistScene(context.Background(), boardID, artboardID, s)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() SaveStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Board returns the loaded board, or nil before Load completes.
func (c *Controller) Board() *core.Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board
}

func (c *Controller) Scene() scene.Scene {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scn
}

func (c *Controller) ReadOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOnly
}

func (c *Controller) transition(state State, status SaveStatus) {
	c.mu.Lock()
	c.state = state
	c.status = status
	c.mu.Unlock()
	c.notify()
}

// setStatusLocked changes the save status and reports whether it changed.
// Caller holds the mutex and must call notify after unlocking.
func (c *Controller) setStatusLocked(status SaveStatus) bool {
	if c.status == status {
		return false
	}
	c.status = status
	return true
}

func (c *Controller) notify() {
	if c.cfg.OnStatusChange == nil {
		return
	}
	c.mu.Lock()
	state, status := c.state, c.status
	c.mu.Unlock()
	c.cfg.OnStatusChange(state, status)
}

// cloneViewState copies a view-state map before mutation. Snapshots taken
// for saves and Scene() hand out the current map and read it outside the
// mutex, so an installed map is never written again, only replaced.
func cloneViewState(vs map[string]any) map[string]any {
	out := make(map[string]any, len(vs)+1)
	for k, v := range vs {
		out[k] = v
	}
	return out
}

func (c *Controller) restoreDraft() scene.Scene {
	empty := scene.Scene{Elements: []scene.Element{}}
	if c.cfg.Drafts == nil {
		return empty
	}
	data, err := c.cfg.Drafts.Load()
	if err != nil {
		if !errors.Is(err, drafts.ErrNoDraft) {
			logrus.WithError(err).Warn("Failed to read draft cache")
		}
		return empty
	}
	s, _, err := scene.Normalize(data)
	if err != nil {
		logrus.WithError(err).Warn("Cached draft unreadable, discarding")
		return empty
	}
	return s
}

func (c *Controller) clearDraft() {
	if c.cfg.Drafts == nil {
		return
	}
	if err := c.cfg.Drafts.Clear(); err != nil {
		logrus.WithError(err).Warn("Failed to clear draft cache")
	}
}

func (c *Controller) cacheGuestDraft() {
	if c.cfg.Drafts == nil {
		return
	}
	c.mu.Lock()
	s := c.scn
	c.mu.Unlock()
	data, err := scene.Marshal(s)
	if err != nil {
		return
	}
	if err := c.cfg.Drafts.Store(data); err != nil {
		logrus.WithError(err).Warn("Failed to cache guest draft")
	}
}
