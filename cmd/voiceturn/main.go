// Command voiceturn serves the voice assistant and offers a terminal client.
//
// Usage:
//
//	voiceturn serve   - HTTP server: /chat, /session websocket, Twilio webhooks
//	voiceturn chat    - talk to the assistant from the terminal
package main

import (
	"fmt"
	"os"

	"github.com/chadiek/voiceturn/cmd/voiceturn/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
