// This program performs administrative tasks for the walletd service.
package main

import (
	"github.com/walletd/walletd/app/tooling/admin/commands"
)

func main() {
	commands.Execute()
}
