package main

import "time"

// Operational limits — named constants for values that were previously
// scattered across multiple source files.
const (
	// identityMinLen and identityMaxLen bound the grammar shared by
	// usernames and room names.
	identityMinLen = 2
	identityMaxLen = 20

	// autoUsernamePrefix is prepended to the zero-padded counter used when a
	// client registers without requesting a username.
	autoUsernamePrefix = "xsukax"

	// rateWindow and rateLimit bound non-admin user-originated traffic: at
	// most rateLimit accepted chat/private frames in any rateWindow.
	rateWindow = 60 * time.Second
	rateLimit  = 30

	// adminSecretLen is the length of the generated admin passphrase.
	adminSecretLen = 12

	// adminSecretRotation is how often the passphrase is regenerated.
	adminSecretRotation = time.Hour

	// livenessSweepInterval is how often the supervisor pings every live
	// session and reaps the ones that don't answer.
	livenessSweepInterval = 30 * time.Second

	// pingInterval and pongTimeout configure the transport's own keepalive,
	// a defence in depth alongside the liveness sweep above.
	pingInterval = 20 * time.Second
	pongTimeout  = 10 * time.Second

	// maxFrameBytes bounds a single inbound frame.
	maxFrameBytes = 1 << 20 // ~1 MiB

	// mainRoom is the always-present, undeletable default room.
	mainRoom = "main"
)
