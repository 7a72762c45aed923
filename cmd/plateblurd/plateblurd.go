package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/plateblur/server"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("plateblurd", "License plate redaction server")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file", Default: "/etc/plateblur/config.json"})
	listen := parser.String("l", "listen", &argparse.Options{Help: "Listen address, overriding the config file (eg :8090)", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	srv, err := server.NewServer(*configFile)
	check(err)
	srv.ListenForKillSignals()

	// Tell systemd that we're alive.
	// We might also want to implement a watchdog timer.
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(*listen); err != nil && err != http.ErrServerClosed {
		srv.Log.Errorf("%v", err)
		os.Exit(1)
	}
	// Shutdown is running on the signal goroutine. Wait for it to finish, so that
	// cancelled runs get to finalize their output.
	srv.WaitForShutdown()
}
