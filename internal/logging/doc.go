// Package logging provides structured JSON logging with rotation for stela.
// The server writes to a rotating file under the data directory and mirrors
// to stderr; the active level can be changed at runtime so a config reload
// takes effect without a restart.
package logging
