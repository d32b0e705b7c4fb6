package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"rcsd/internal/daemon"
	"rcsd/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	listenFlag := flag.String("listen", "", "http listen address (overrides config)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Profile:    name,
			ListenAddr: *listenFlag,
		}),
	)

	app.Run()
}
