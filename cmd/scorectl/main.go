package main

import (
	"fmt"
	"os"
)

func main() {
	var sess *session
	err := rootCommand(&sess).Execute()
	if sess != nil {
		if cerr := sess.Close(); cerr != nil {
			fmt.Fprintln(os.Stderr, "Error:", cerr)
			err = cerr
		}
	}
	if err != nil {
		os.Exit(1)
	}
}
