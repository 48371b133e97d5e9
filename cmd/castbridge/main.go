// Command castbridge bridges Google Cast devices onto the Gray Logic MQTT bus.
//
// Build-time version information is injected with:
//
//	go build -ldflags "-X github.com/nerrad567/gray-logic-cast/internal/cli.Version=1.0.0 \
//	  -X github.com/nerrad567/gray-logic-cast/internal/cli.Commit=abc123"
package main

import "github.com/nerrad567/gray-logic-cast/internal/cli"

func main() {
	cli.Execute()
}
