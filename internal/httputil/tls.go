// Package httputil provides hardened transport settings and input sanitization utilities.
package httputil

import (
	"crypto/tls"
	"net/http"
)

// UserAgent is sent on direct endpoint connections so they look like the
// browser session that discovered them.
const UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// TLSConfig returns the client TLS settings used for every outbound connection.
func TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
}

// Headers builds the request headers for a WebSocket handshake.
// origin may be empty.
func Headers(origin string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", UserAgent)
	h.Set("Accept-Language", "en-US,en;q=0.5")
	if origin != "" {
		h.Set("Origin", origin)
	}
	return h
}
