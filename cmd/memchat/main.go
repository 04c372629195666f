package main

import (
	"fmt"
	"os"

	"github.com/cadre-oss/memchat/internal/cli"
	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if sug := memErrors.Suggestion(err); sug != "" {
			fmt.Fprintln(os.Stderr, "  →", sug)
		}
		os.Exit(1)
	}
}
