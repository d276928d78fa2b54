// Package mcp exposes the engine to MCP clients over JSON-RPC on stdio:
// tool definitions, a dispatch loop, and plain-text result formatting. Like
// the REST surface, it holds no core logic.
package mcp
