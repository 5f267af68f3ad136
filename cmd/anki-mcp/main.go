// Command anki-mcp serves an Anki collection to MCP clients through the
// AnkiConnect add-on.
package main

func main() {
	Execute()
}
