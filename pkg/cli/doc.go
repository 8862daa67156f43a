// Package cli implements the mockhost command tree.
//
// "mockhost serve" runs the manager and its control API in the foreground;
// the other commands are clients of that API.
package cli
