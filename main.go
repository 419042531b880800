package main

import (
	"github.com/AvaProtocol/wallet-core/cmd"
)

func main() {
	cmd.Execute()
}
