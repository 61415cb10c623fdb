package web

import "embed"

// FS holds the transfer monitor page (HTML, CSS, JS).
//
//go:embed *.html *.css *.js
var FS embed.FS
