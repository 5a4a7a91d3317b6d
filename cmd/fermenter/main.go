// Command fermenter runs a fermentation fridge controller. It reads the fridge
// air and beer temperatures, switches the compressor through a relay, and
// publishes its state to MQTT and a small web dashboard.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
