package dig_container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/coursekit/apps/api/echo"
	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/chat"
	"github.com/trezcool/coursekit/core/ratelimit"
)

func newInMemoryConfig() *core.Config {
	conf := core.NewTestConfig()
	conf.Database.Engine = EngineInMemory
	return conf
}

func TestNew(t *testing.T) {
	c := New(newInMemoryConfig)

	err := c.Invoke(func(server *echoapi.Server, store ratelimit.Store, usage chat.UsageRepository, sp StorageParam) {
		assert.NotNil(t, server)
		assert.NotNil(t, usage)
		assert.IsType(t, &ratelimit.MemoryStore{}, store)
		assert.NoError(t, sp.Storage.Close())
	})
	require.NoError(t, err)
}
