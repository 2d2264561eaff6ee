package session

import (
	"context"
	"fmt"
	"time"

	"boardsync/core"
	"boardsync/scene"
	"boardsync/transport"

	"github.com/sirupsen/logrus"
)

// The persistence pipeline: one shared timer debounces every kind of edit,
// and firing it flushes the whole current scene. Saves always ship the full
// snapshot, never a diff, so a lost flush is repaired by the next one.

// restartTimerLocked (re)arms the quiet-period timer. Caller holds the mutex.
func (c *Controller) restartTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.QuietPeriod, func() {
		if err := c.flush(context.Background()); err != nil {
			logrus.WithError(err).Warn("Debounced save failed")
		}
	})
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// flush persists the current scene if there is anything pending. For guests
// it refreshes the draft cache instead and the status stays unsaved.
func (c *Controller) flush(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || !c.dirty {
		c.mu.Unlock()
		return nil
	}

	if c.state == StateGuestDraft {
		c.dirty = false
		c.mu.Unlock()
		c.cacheGuestDraft()
		return nil
	}
	if c.state != StateReady || c.board == nil {
		c.mu.Unlock()
		return nil
	}

	boardID := c.board.ID
	artboardID := c.artboardID
	s := c.scn
	c.dirty = false

	// Nothing worth writing: a snapshot with no elements, or only
	// tombstoned ones, never replaces a saved one.
	if len(s.Elements) == 0 || scene.AllDeleted(s.Elements) {
		c.setStatusLocked(StatusSaved)
		c.mu.Unlock()
		c.notify()
		return nil
	}

	c.setStatusLocked(StatusSaving)
	conn := c.conn
	c.lastSceneSent = time.Now()
	c.mu.Unlock()
	c.notify()

	// The settled scene also goes out on the wire, so peers who only saw
	// throttled intermediates converge on the final state.
	if conn != nil {
		msg := transport.Message{
			Kind:            transport.KindSceneChanged,
			Elements:        s.Elements,
			BackgroundColor: scene.BackgroundColor(s.ViewState),
		}
		if err := conn.Publish(ctx, msg); err != nil {
			logrus.WithError(err).Debug("Settled-scene broadcast failed")
		}
	}

	saveErr := c.persistScene(ctx, boardID, artboardID, s)

	c.mu.Lock()
	if saveErr != nil {
		// The scene stays dirty so the next edit retries.
		c.dirty = true
		c.setStatusLocked(StatusError)
	} else if !c.dirty {
		c.setStatusLocked(StatusSaved)
	}
	c.mu.Unlock()
	c.notify()
	return saveErr
}

// persistScene writes the canonical envelope and refreshes the thumbnail.
// The thumbnail is best effort: its failure never fails the save.
func (c *Controller) persistScene(ctx context.Context, boardID, artboardID string, s scene.Scene) error {
	snapshot, err := scene.Marshal(scene.Scene{
		Elements:  s.Elements,
		ViewState: scene.PersistedViewState(s.ViewState),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := c.cfg.Backend.SaveArtboard(ctx, boardID, artboardID, snapshot); err != nil {
		return fmt.Errorf("save artboard: %w", err)
	}

	// Only a persisted snapshot earns a preview; a board row must never
	// advertise content that was not written.
	if c.cfg.Thumbnails != nil {
		if preview, err := c.cfg.Thumbnails.Render(s); err != nil {
			logrus.WithError(err).WithField("board_id", boardID).Debug("Thumbnail render failed")
		} else if err := c.cfg.Backend.UpdateBoard(ctx, boardID, core.BoardUpdate{Thumbnail: &preview}); err != nil {
			logrus.WithError(err).WithField("board_id", boardID).Debug("Thumbnail update failed")
		}
	}
	logrus.WithFields(logrus.Fields{
		"board_id":    boardID,
		"artboard_id": artboardID,
		"elements":    len(s.Elements),
	}).Debug("Scene persisted")
	return nil
}
