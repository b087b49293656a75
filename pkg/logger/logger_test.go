package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantDebug bool
		wantErr   bool
	}{
		{"production defaults to info", Options{Service: "svc", Environment: "production"}, false, false},
		{"development defaults to debug", Options{Service: "svc", Environment: "development"}, true, false},
		{"explicit level", Options{Service: "svc", Environment: "development", Level: "warn"}, false, false},
		{"bad level", Options{Service: "svc", Level: "loud"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDebug, log.Core().Enabled(zap.DebugLevel))
		})
	}
}
