package yggdrasil

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// TestConnectivity starts a temporary overlay node with the configured
// peers and fails if none of them connects within the wait period.
func TestConnectivity(ctx context.Context, config *viper.Viper, wait time.Duration) error {
	logger := newLogger()
	settings, auto, err := readSettings(config)
	if err != nil {
		return err
	}
	if auto {
		settings.Peers = autoPeers(ctx, logger)
	}

	c, err := newCore(settings, logger)
	if err != nil {
		return err
	}
	defer c.Stop()

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return ctx.Err()
	}
	if len(c.GetPeers()) == 0 {
		return fmt.Errorf("no peers connected")
	}
	return nil
}
