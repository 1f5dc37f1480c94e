package main

import (
	"context"

	"registry-harvester/cmd/harvest/commands"
	"registry-harvester/internal/components/serviceutil"
	"registry-harvester/internal/components/telemetry"
)

func main() {
	ctx, cancel := serviceutil.SignalContext(context.Background())
	defer cancel()

	telemetry.InitSlog(false)
	otel, err := telemetry.SetupFromEnv(ctx, "harvest")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer otel.Shutdown(context.Background())

	commands.ExecuteContext(ctx)
}
