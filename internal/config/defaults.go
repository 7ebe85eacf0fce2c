package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	poolSize       = 10
	listenAddr     = ":8080"
	chunkSize      = 32 * 1024
	readTimeout    = 30 * time.Second
	connectTimeout = 30 * time.Second
	userAgent      = "RDM/1.0"
	checkFreeSpace = true
)

var (
	downloadDir = xdg.UserDirs.Download
	dbPath      = filepath.Join(xdg.DataHome, configFileName, "progress.db")
)
