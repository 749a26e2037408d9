// Package toolserver turns catalog tool configurations into a table of
// invocable tools.
//
// Each chat request builds its own table with BuildToolTable and releases it
// with the returned CleanupFunc. Servers are connected concurrently; a server
// that fails to start or to list its tools is logged and left out, so one
// broken server never fails the request.
//
// Tool names are qualified as server_tool, except when a tool shares its
// server's name, in which case the bare name is used.
package toolserver
