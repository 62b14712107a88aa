// Command logix compiles trait declarations and runs converge transactions.
//
// Usage:
//
//	logix compile ./modules/cart
//	logix converge ./modules/cart --state cart.json --write items[0].qty=3 --db logix.db
//	logix trace --db logix.db --outcome Degraded
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yoyooyooo/logix-sub006/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
