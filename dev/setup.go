package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	devenv "registry-harvester/dev/env"
	"registry-harvester/internal/components/configutil"
	"registry-harvester/internal/harvest/config"
	"registry-harvester/internal/harvest/harvesttest"
)

// localConfig is the subset of the harvest configuration pointed at the fake registry.
type localConfig struct {
	Target              localTarget `json:"target"`
	RequestDelaySeconds float64     `json:"request_delay_seconds"`
	OutputPath          string      `json:"output_path"`
	Sqlite              localSqlite `json:"sqlite"`
}

type localTarget struct {
	Enumerator       string `json:"enumerator"`
	Fetcher          string `json:"fetcher"`
	IndexURL         string `json:"index_url"`
	LinkSelector     string `json:"link_selector"`
	NextSelector     string `json:"next_selector"`
	IDParam          string `json:"id_param"`
	CloudflareBypass bool   `json:"cloudflare_bypass"`
}

type localSqlite struct {
	File string `json:"file"`
}

func writeLocalConfig(registry *harvesttest.Registry) (string, error) {
	contents, err := json.MarshalIndent(localConfig{
		Target: localTarget{
			Enumerator:   config.EnumeratorPaginated,
			Fetcher:      config.FetcherGet,
			IndexURL:     registry.IndexURL(),
			LinkSelector: "table#results a",
			NextSelector: "a#next",
			IDParam:      "ID",
		},
		RequestDelaySeconds: 0.2,
		OutputPath:          devenv.StatePrefix + "/death_row_inmates.csv",
		Sqlite:              localSqlite{File: devenv.StatePrefix + "/harvest.db"},
	}, "", "  ")
	if err != nil {
		return "", err
	}

	path := configutil.LocalPath(config.DefaultPath)
	return path, os.WriteFile(path, contents, 0600)
}

// ServeRegistry serves the fake registry and points the local configuration
// at it, both are removed again once ctx is done.
func ServeRegistry(ctx context.Context) error {
	registry := harvesttest.NewServer(harvesttest.Inmates())
	defer registry.Server.Close()

	path, err := writeLocalConfig(registry)
	if err != nil {
		return err
	}
	defer os.Remove(path)

	slog.Info("serving fake registry", "index", registry.IndexURL(), "form", registry.FormURL(), "config", path)
	fmt.Println("run `go run ./cmd/harvest` in another terminal, press Ctrl+C to stop")

	<-ctx.Done()
	return nil
}
