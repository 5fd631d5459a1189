// Command echo-json is a minimal external plugin. The engine invokes it as
// `echo-json <action> <payload-json>`; it echoes the payload back on stdout.
//
// Build it and reference it from plugins.json:
//
//	[{"name": "echo-json", "command": "./plugins/echo-json/echo-json"}]
package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: echo-json <action> [payload-json]")
		os.Exit(1)
	}
	action := os.Args[1]

	payload := json.RawMessage(`{}`)
	if len(os.Args) > 2 {
		raw := []byte(os.Args[2])
		if !json.Valid(raw) {
			fmt.Fprintf(os.Stderr, "payload is not valid JSON: %q\n", os.Args[2])
			os.Exit(1)
		}
		payload = raw
	}

	switch action {
	case "echo":
		os.Stdout.Write(payload)
	case "wrap":
		out, err := json.Marshal(map[string]any{"action": action, "payload": payload})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
	default:
		fmt.Fprintf(os.Stderr, "unknown action %q\n", action)
		os.Exit(2)
	}
}
