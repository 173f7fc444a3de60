package main

import "github.com/oshokin/alarm-relay/cmd/alarm-status/cmd"

func main() {
	cmd.Execute()
}
