// lorarelayctl is the operator CLI for a running LoRa relay. It talks to the
// relay's management API and mints access tokens.
package main

import "github.com/nerrad567/lora-relay/cmd/lorarelayctl/commands"

func main() {
	commands.Execute()
}
