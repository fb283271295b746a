package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/openmined/vaultsync/internal/client/workspace"
	"github.com/openmined/vaultsync/internal/utils"
)

// setupFileLogging tees the default logger into the daemon log file that
// the control plane serves on /v1/logs. The file is truncated on start.
func setupFileLogging(dataDir string) (func(), error) {
	logFile := workspace.LogFilePath(dataDir)
	if err := utils.EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// the interceptor stamps every line
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	prev := slog.Default()
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(prev.Handler(), fileHandler)))

	return func() {
		slog.SetDefault(prev)
		logInterceptor.Close()
		file.Close()
	}, nil
}
