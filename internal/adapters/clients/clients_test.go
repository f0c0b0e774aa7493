package clients

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mybillbook/reconciler/internal/infrastructure/config"
	"github.com/mybillbook/reconciler/internal/infrastructure/locking"
	"github.com/mybillbook/reconciler/internal/infrastructure/logging"
)

func TestNewClients(t *testing.T) {
	t.Run("in-process locker without redis", func(t *testing.T) {
		cfg := config.LoadFromEnv()
		cfg.OpenAI.APIKey = "sk-test"
		cfg.OpenAI.Model = "gpt-4o"
		cfg.Locking.RedisAddress = ""

		c, err := NewClients(context.Background(), cfg, logging.Discard())
		require.NoError(t, err)
		defer c.Close()

		assert.IsType(t, &locking.KeyedMutex{}, c.Locker)
		assert.Equal(t, "gpt-4o", c.Matcher.Model())
	})

	t.Run("unreachable redis fails", func(t *testing.T) {
		cfg := config.LoadFromEnv()
		cfg.Locking.RedisAddress = "127.0.0.1:1"

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := NewClients(ctx, cfg, logging.Discard())
		assert.Error(t, err)
	})
}
