package otel

// Config holds OTLP exporter configuration.
type Config struct {
	Endpoint string
	Enabled  bool
	Insecure bool
}

// Active reports whether an exporter should be created at all.
func (c Config) Active() bool {
	return c.Enabled && c.Endpoint != ""
}
