package daemon

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/printspool/printspoold/internal/config"
	"github.com/printspool/printspoold/internal/event"
)

func addrTCP(a string) net.Addr {
	ip, _ := net.ResolveTCPAddr("tcp", a)
	return ip
}

func TestNewWiresResourceCapsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.CertRoot = t.TempDir()
	cfg.Listen = []string{"127.0.0.1:0"}
	cfg.MaxSubscriptionsTotal = 2
	cfg.MaxJobHistory = 3
	cfg.MaxClientSessions = 1

	root, err := New(cfg, []string{"text/plain"})
	require.NoError(t, err)
	defer root.Shutdown()

	require.Equal(t, 3, root.Jobs.MaxHistory)

	now := time.Unix(0, 0)
	_, err = root.Events.Subscribe([]event.Kind{event.KindAll}, event.Filter{}, 10, 0, now)
	require.NoError(t, err)
	_, err = root.Events.Subscribe([]event.Kind{event.KindAll}, event.Filter{}, 10, 0, now)
	require.NoError(t, err)
	_, err = root.Events.Subscribe([]event.Kind{event.KindAll}, event.Filter{}, 10, 0, now)
	require.Error(t, err)

	first, ok, err := root.Sessions.Open(addrTCP("10.0.0.1:1"))
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = root.Sessions.Open(addrTCP("10.0.0.2:1"))
	require.Error(t, err)
	require.False(t, ok)

	root.Sessions.Release(first)
}

func TestRunOnceAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.CertRoot = t.TempDir()
	cfg.Listen = []string{"127.0.0.1:0"}

	root, err := New(cfg, []string{"text/plain"})
	require.NoError(t, err)

	require.NoError(t, root.RunOnce(10*time.Millisecond))
	require.NoError(t, root.Shutdown())
}
