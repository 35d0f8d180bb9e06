package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"SelectionBuilder/internal/app"
	"SelectionBuilder/internal/config"
	"SelectionBuilder/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) loadConfig() config.Config {
	c.configOnce.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			c.config = config.Load()
			return
		}
		c.config = config.LoadFile(path)
	})
	return c.config
}

func (c *commandContext) logger() *slog.Logger {
	cfg := c.loadConfig()
	return logging.New(cfg.Logging.Level, cfg.Logging.Format)
}

// open builds the application and a context cancelled on SIGINT or SIGTERM.
func (c *commandContext) open(parent context.Context) (*app.Application, context.Context, func(), error) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	application, err := app.New(ctx, c.loadConfig(), c.logger())
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	cleanup := func() {
		_ = application.Close()
		stop()
	}
	return application, ctx, cleanup, nil
}
