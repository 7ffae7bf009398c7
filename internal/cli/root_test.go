package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/storefleet/internal/config"
	"github.com/seantiz/storefleet/internal/invoker/invokertest"
	"github.com/seantiz/storefleet/internal/model"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand("dev")
	require.NotNil(t, cmd)
	assert.Equal(t, "storefleet", cmd.Use)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("dev")

	for _, name := range []string{"serve", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand("dev")
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	for _, name := range []string{"listen", "db-driver", "db-dsn", "log-level"} {
		assert.NotNil(t, serve.Flags().Lookup(name), name)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCommand("1.2.3")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "storefleet 1.2.3 ("), out.String())
}

func TestServeOptionsApplyOnlyChangedFlags(t *testing.T) {
	cmd := NewServeCommand(&RootOptions{})
	require.NoError(t, cmd.Flags().Parse([]string{"--db-dsn", ":memory:"}))

	serveOpts := &ServeOptions{DBDSN: ":memory:"}
	cfg := config.Default()
	serveOpts.apply(cmd, &cfg)

	assert.Equal(t, ":memory:", cfg.DB.DSN)
	assert.Equal(t, config.Default().ListenAddr, cfg.ListenAddr)
}

func TestServeFlagsCorrectInvalidEnv(t *testing.T) {
	t.Setenv("STOREFLEET_DB_DRIVER", "bogus")

	opts := &ServeOptions{}
	cmd := newServeCommand(&RootOptions{}, opts)
	require.NoError(t, cmd.Flags().Parse([]string{"--db-driver", "sqlite", "--db-dsn", ":memory:"}))

	cfg, err := opts.load(cmd, "")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, ":memory:", cfg.DB.DSN)
}

func TestServeRejectsInvalidMergedConfig(t *testing.T) {
	t.Setenv("STOREFLEET_DB_DRIVER", "bogus")

	opts := &ServeOptions{}
	cmd := newServeCommand(&RootOptions{}, opts)
	require.NoError(t, cmd.Flags().Parse([]string{"--listen", ":0"}))

	_, err := opts.load(cmd, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db.driver")
}

func TestBuildWiresService(t *testing.T) {
	cfg := config.Default()
	cfg.DB.DSN = ":memory:"
	fake := invokertest.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := Build(context.Background(), &cfg, fake, logger)
	require.NoError(t, err)
	defer svc.Registry.Close()

	s, err := svc.Orchestrator.Create(context.Background(), model.EngineMedusa)
	require.NoError(t, err)
	svc.Orchestrator.Wait()

	got, err := svc.Registry.GetStore(context.Background(), s.Name)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status)

	// Quota, limit range, credentials and ingress are all piped manifests.
	assert.Equal(t, 4, fake.Count("kubectl apply -n "+s.Namespace+" -f -"))
	var kinds []string
	for _, c := range fake.Commands() {
		for _, kind := range []string{"ResourceQuota", "LimitRange"} {
			if strings.Contains(string(c.Stdin), "kind: "+kind) {
				kinds = append(kinds, kind)
			}
		}
	}
	assert.Equal(t, []string{"ResourceQuota", "LimitRange"}, kinds)
}

func TestBuildRejectsInvalidGuardPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.DB.DSN = ":memory:"
	cfg.Guard.Quota = map[string]string{"pods": "lots"}

	_, err := Build(context.Background(), &cfg, invokertest.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guard policy")
}
