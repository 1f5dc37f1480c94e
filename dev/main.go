package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"registry-harvester/internal/components/serviceutil"
)

func create(recreate bool) error {
	_, err := os.Stat("go.mod")
	if os.IsNotExist(err) {
		return fmt.Errorf("the dev environment must be created in the repository root (the same directory as the 'go.mod' file)")
	}

	if recreate {
		err = os.RemoveAll("dev/.state")
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	err = os.MkdirAll("dev/.state", 0777)
	if err != nil && !os.IsExist(err) {
		return err
	}

	return nil
}

func main() {
	recreate := flag.Bool("recreate", false, "recreate the dev environment from scratch")
	serve := flag.Bool("serve", false, "serve a fake registry and point harvest.local.json5 at it until interrupted")
	flag.Parse()

	err := create(*recreate)
	if err != nil {
		slog.Error("failed to create dev environment", "err", err.Error())
		os.Exit(1)
	}
	slog.Info("dev environment created successfully!")

	if !*serve {
		return
	}

	ctx, cancel := serviceutil.SignalContext(context.Background())
	defer cancel()
	err = ServeRegistry(ctx)
	if err != nil {
		serviceutil.Fatal("failed to serve registry", err)
	}
}
