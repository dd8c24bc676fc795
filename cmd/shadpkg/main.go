package main

import (
	"fmt"
	"os"

	"github.com/seregonwar/shadpkg/internal/cmd"
)

func main() {
	defer func() {
		switch r := recover().(type) {
		case nil:
		case error:
			fmt.Fprintf(os.Stderr, "runtime error: %v\n", r)
			os.Exit(2)
		default:
			fmt.Fprintf(os.Stderr, "fatal error: %v\n", r)
			os.Exit(3)
		}
	}()

	cmd.Execute()
}
