// Command bskybot runs the mention-to-reply video bot and the SharedInventory bot.
package main

import (
	"os"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
