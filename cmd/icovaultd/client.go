package main

import (
	"github.com/rs/zerolog"
)

// loggingClient is a trivial service.Client that logs every callback. It's
// the CLI demo's stand-in for an embedder's real UI-thread dispatch.
type loggingClient struct {
	logger zerolog.Logger
}

func newLoggingClient(logger zerolog.Logger) *loggingClient {
	return &loggingClient{logger: logger}
}

func (c *loggingClient) DidAddIconForPage(pageURL string) {
	c.logger.Debug().Str("page_url", pageURL).Msg("icon resolved for page")
}

func (c *loggingClient) DidImportIconDataForPage(pageURL string) {
	c.logger.Debug().Str("page_url", pageURL).Msg("icon data imported for page")
}

func (c *loggingClient) DidRemoveAllIcons() {
	c.logger.Info().Msg("all icons removed")
}

func (c *loggingClient) PerformingImportShouldStop() bool {
	return false
}
