package tracing

import (
	"context"
	"testing"

	"github.com/reportline/reportline-core/internal/infrastructure/config"
)

func TestSetup_Noop(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracingConfig
	}{
		{"disabled", config.TracingConfig{Enabled: false, Endpoint: "http://localhost:4318"}},
		{"no endpoint", config.TracingConfig{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tt.cfg, "test")
			if err != nil {
				t.Fatalf("Setup() error = %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if err := shutdown(ctx); err != nil {
				t.Errorf("noop shutdown error = %v", err)
			}
		})
	}
}

func TestSetup_Enabled(t *testing.T) {
	// A non-routable address: nothing is exported because no span is ended.
	cfg := config.TracingConfig{Enabled: true, Endpoint: "http://192.0.2.1:4318", ServiceName: "reportline-test"}

	shutdown, err := Setup(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown error = %v", err)
	}
}
