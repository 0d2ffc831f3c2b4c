// Package api exposes the daemon's HTTP control surface: job submission and
// inspection, workflow creation and resume, a server-sent-events stream of
// pipeline progress, and a daemon status summary. It also provides the HTTP
// client the CLI uses against a running daemon.
package api
