// Package preview serves an extracted simulator bundle on a loopback port.
//
// HTML responses get a console-capture script injected after the opening
// <head> tag. The script mirrors console output and uncaught errors to the
// embedding window via postMessage and to the server's console endpoint, and
// optionally reloads the page when a live-reload event arrives.
package preview
