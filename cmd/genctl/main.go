// Command genctl is the operator CLI for the generation core: schema
// migration, provider keys, balances, task inspection and one-shot sweeps.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(openSession).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
