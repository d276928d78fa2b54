// Command engram is the CLI and service entry point for the cognitive
// memory engine: store and recall memories, run reviews, serve the REST
// API, or speak MCP over stdio.
package main

func main() {
	Execute()
}
