package web

import (
	"embed"
)

// staticFiles holds the kiosk page and its assets.
//
//go:embed static/*
var staticFiles embed.FS
