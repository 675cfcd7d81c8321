package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kevinzwang/termdeck/internal/daemon"
	"github.com/kevinzwang/termdeck/internal/database"
	"github.com/kevinzwang/termdeck/internal/lifecycle"
	"github.com/kevinzwang/termdeck/internal/logx"
	"github.com/kevinzwang/termdeck/internal/push"
	"github.com/kevinzwang/termdeck/internal/registry"
	"github.com/kevinzwang/termdeck/internal/rpc"
	"github.com/kevinzwang/termdeck/internal/target"
	"github.com/kevinzwang/termdeck/internal/tui"
	"github.com/kevinzwang/termdeck/internal/widget"
	"pkt.systems/pslog"
)

func runTUI(ctx context.Context, flags *globalFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	level, err := logx.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger, logFile, err := logx.OpenFile(cfg.Logging.File, level)
	if err != nil {
		return err
	}
	defer logFile.Close()
	ctx = pslog.ContextWithLogger(ctx, logger)

	// Start an embedded daemon when none is running. Its sessions end with
	// this process; run `termdeck daemon` for sessions that outlive it.
	if !daemon.Reachable(ctx, cfg.SocketPath) {
		srv := daemon.New(cfg.SocketPath, cfg.Specs(), logger.With("component", "daemon"))
		if err := srv.Listen(); err != nil {
			return err
		}
		daemonCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- srv.Serve(daemonCtx) }()
		defer func() {
			stop()
			if err := <-done; err != nil {
				logger.Warn("embedded daemon stopped with error", "err", err)
			}
		}()
		logger.Info("started embedded daemon", "socket", cfg.SocketPath)
	}

	client, err := rpc.Dial(ctx, cfg.SocketPath, logger)
	if err != nil {
		return err
	}
	defer client.Close()
	router := push.NewRouter(client, logger)
	defer router.Close()

	db, err := database.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	reg := registry.New()
	if err := tui.RestoreLayout(reg, db, cfg.Panel.Height); err != nil {
		logger.Warn("starting with an empty layout", "err", err)
		reg.SetPanelHeight(cfg.Panel.Height)
	}

	theme, ok := widget.ThemeByName(cfg.Theme)
	if !ok {
		return fmt.Errorf("unknown theme %q", cfg.Theme)
	}

	model := tui.NewModel(tui.Options{
		Registry:     reg,
		Lifecycle:    lifecycle.New(client),
		Targets:      target.NewClient(client),
		Routes:       router,
		Layout:       db,
		Theme:        theme,
		CellHeightPx: cfg.Panel.CellHeightPx,
		Logger:       logger,
	})
	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithReportFocus(),
		tea.WithContext(ctx),
	)
	model.SetProgram(p)

	_, err = p.Run()
	model.Shutdown()
	if err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
