// Command indubitably is the headless front-end for the turn scheduler:
// it loads a TOML config, wires the session/tool/policy/MCP layers
// together, runs one prompt to completion, and reports the stop reason
// plus tool events.
package main

import "github.com/deepnoodle-ai/indubitably/cmd/indubitably/cli"

func main() {
	cli.Execute()
}
