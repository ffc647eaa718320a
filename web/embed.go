package web

import "embed"

// Templates embeds HTML templates.
//
//go:embed templates/**/*.html
var Templates embed.FS

// Static embeds the stylesheet, the selection script and the logo.
//
//go:embed static/**/*
var Static embed.FS
