// Package devtools exposes stored converge evidence to MCP clients.
//
// The server is read-only. It answers questions an editor or agent asks
// while debugging a module: what did the last build look like, which
// transactions degraded, and why.
//
//	st, _ := store.Open("logix.db")
//	s := devtools.New(st, "dev")
//	_ = server.ServeStdio(s)
package devtools
