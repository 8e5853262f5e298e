// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

//go:build windows

package main

import (
	"github.com/homewatt/homewatt/app"
	"github.com/homewatt/homewatt/pkg/logger"
)

// setupDebugSignalHandlers is a no-op on Windows as SIGUSR1/SIGUSR2 don't exist
func setupDebugSignalHandlers(_ *app.App) {
	logger.Debug().Msg("Debug signal handlers not available on Windows")
}
