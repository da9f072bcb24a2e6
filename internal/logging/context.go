package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// FromContext extracts the logger from context.
// If no logger is found, returns a disabled logger (no-op).
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// WithContext returns a new context with the logger attached.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// WithIconURL creates a child logger with an icon_url field.
func WithIconURL(ctx context.Context, iconURL string) context.Context {
	logger := FromContext(ctx).With().Str("icon_url", iconURL).Logger()
	return WithContext(ctx, logger)
}

// WithPageURL creates a child logger with a page_url field.
func WithPageURL(ctx context.Context, pageURL string) context.Context {
	logger := FromContext(ctx).With().Str("page_url", pageURL).Logger()
	return WithContext(ctx, logger)
}

// WithComponent creates a child logger with a component field.
func WithComponent(ctx context.Context, component string) context.Context {
	logger := FromContext(ctx).With().Str("component", component).Logger()
	return WithContext(ctx, logger)
}
