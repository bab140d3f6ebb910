package main

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dshills/scribe/internal/engine"
	"github.com/dshills/scribe/internal/safety"
	"github.com/dshills/scribe/internal/timemachine"
)

// timeMachine builds the history manager from the [history] section.
func (g *globals) timeMachine() (*timemachine.Manager, error) {
	h := g.cfg.History
	retention, err := timemachine.ParseRetention(h.Retention.Policy, h.Retention.Value)
	if err != nil {
		return nil, err
	}
	strategy, err := timemachine.ParseStrategy(h.LargeFiles.Strategy)
	if err != nil {
		return nil, err
	}
	return timemachine.New(h.StorageRoot,
		timemachine.WithLogger(g.log),
		timemachine.WithRetention(retention),
		timemachine.WithLargeFiles(timemachine.LargeFileConfig{
			ThresholdMB:        h.LargeFiles.ThresholdMB,
			Strategy:           strategy,
			ExcludeFromHistory: h.LargeFiles.ExcludeFromHistory,
		}),
		timemachine.WithGC(timemachine.GCConfig{
			Enabled:          h.GC.Enabled,
			CommitsThreshold: h.GC.CommitsThreshold,
			SizeThresholdMB:  h.GC.SizeThresholdMB,
			Aggressive:       h.GC.Aggressive,
		}),
	)
}

// safetyManager builds the file safety manager from the [safety] section.
func (g *globals) safetyManager() (*safety.Manager, error) {
	s := g.cfg.Safety
	return safety.NewManager(safety.Options{
		AutoSave:         s.AutoSave,
		AutoSaveInterval: s.AutoSaveInterval.Std(),
		EditThreshold:    s.AutoSaveEditThreshold,
		RecoveryDir:      s.RecoveryDir,
		Watch:            s.Watch,
		Logger:           g.log,
	})
}

// session is an editor wired to its background services.
type session struct {
	editor *engine.EditorState
	safety *safety.Manager
	cancel context.CancelFunc
	done   chan struct{}
}

// newSession builds an editor with file safety and, when enabled, the time
// machine. The safety manager's events are fed back into the editor as
// commands until Close.
func (g *globals) newSession(ctx context.Context) (*session, error) {
	mgr, err := g.safetyManager()
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(g.log),
		engine.WithSafety(mgr),
		engine.WithEditorConfig(g.cfg.Editor),
		engine.WithAutoSave(g.cfg.Safety.AutoSaveInterval.Std(), g.cfg.Safety.AutoSaveEditThreshold),
	}
	if g.cfg.History.Enabled {
		tm, err := g.timeMachine()
		if err != nil {
			_ = mgr.Close()
			return nil, err
		}
		opts = append(opts, engine.WithTimeMachine(tm))
	}

	ctx, cancel := context.WithCancel(ctx)
	opts = append(opts, engine.WithContext(ctx))

	e, err := engine.New(opts...)
	if err != nil {
		cancel()
		_ = mgr.Close()
		return nil, err
	}

	s := &session{editor: e, safety: mgr, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		_ = mgr.Run(ctx, func(ev safety.Event) {
			if c := engine.FromSafetyEvent(ev); c != nil {
				if _, err := e.Apply(c); err != nil {
					g.log.Debug("background command failed",
						zap.String("command", engine.CommandName(c)), zap.Error(err))
				}
			}
		})
	}()
	return s, nil
}

// Close stops the background loop and releases the editor and its
// services.
func (s *session) Close() error {
	s.cancel()
	<-s.done
	err := s.editor.Close()
	if cerr := s.safety.Close(); err == nil {
		err = cerr
	}
	return err
}

// projectOf returns the history root for path.
func projectOf(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	mode, err := timemachine.DetectTrackingMode(abs)
	if err != nil {
		return "", err
	}
	return mode.Root, nil
}
