// Package logx is sesmailer's process logger: a small value-type wrapper on
// zerolog whose outputs can be swapped when the config file is reloaded.
//
// Console output is human readable with a short caller, file output is JSON.
// Secrets go through Redact so keys never reach a log line in full.
package logx
