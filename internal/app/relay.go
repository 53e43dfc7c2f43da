package app

import (
	"context"

	"github.com/1ureka/peersync/internal/config"
	"github.com/1ureka/peersync/internal/relay"
	"github.com/1ureka/peersync/internal/util"
)

// RunRelay serves the signaling relay on cfg.Listen until ctx is cancelled.
func RunRelay(ctx context.Context, cfg *config.Config) error {
	server := relay.NewServer(cfg.RelayOptions())
	addr, err := server.Start(cfg.Listen)
	if err != nil {
		return err
	}
	defer server.Close()

	util.LogSuccess("relay listening on %s (peers connect to ws://%s/ws)", addr, addr)

	<-ctx.Done()
	util.LogInfo("relay shutting down (%d peers connected)", server.Hub().Count())
	return nil
}
