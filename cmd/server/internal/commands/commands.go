package commands

import (
	"net/http"
	"time"
)

type Globals struct {
	Debug   bool
	Version string
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute, // voice sample uploads
		WriteTimeout:      2 * time.Minute, // synchronous generation on test routes
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    16 * 1024, // 16KiB, the user token is a JWT
	}
}
