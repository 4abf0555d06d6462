package host

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/terabithia/internal/bridge"
	"github.com/GriffinCanCode/terabithia/internal/channel"
	"github.com/GriffinCanCode/terabithia/internal/infrastructure/config"
	"github.com/GriffinCanCode/terabithia/internal/manifest"
	"github.com/GriffinCanCode/terabithia/internal/relay"
)

const isolatedJS = `
TerabithiaBridge[BRIDGE].addHandlers({
	getExtensionId: function () { return { success: true, id: 'ext-123' }; }
});
`

const mainJS = `
var pageTitle = 'Example Domain';
TerabithiaBridge[BRIDGE].addHandlers({
	getValueFromMain: function () { return { success: true, value: pageTitle }; }
});
`

// writeExtension lays out a manifest and its scripts in a temp dir.
func writeExtension(t *testing.T, bridgeID string) *manifest.Manifest {
	t.Helper()
	dir := t.TempDir()
	prelude := "var BRIDGE = '" + bridgeID + "';\n"

	files := map[string]string{
		"manifest.yaml": `name: demo
bridge_id: ` + bridgeID + `
content_scripts:
  - world: ISOLATED
    js: [isolated.js]
  - world: MAIN
    matches: ["https://example.com/**"]
    js: [main.js]
`,
		"isolated.js": prelude + isolatedJS,
		"main.js":     prelude + mainJS,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	m, err := manifest.Load(filepath.Join(dir, "manifest.yaml"))
	require.NoError(t, err)
	return m
}

func testConfig(kind string) *config.Config {
	cfg := config.Default()
	cfg.Transport.Kind = kind
	cfg.Bridge.CallTimeout = 5 * time.Second
	return cfg
}

func execute(t *testing.T, h *Host, world bridge.Domain, script string) string {
	t.Helper()
	d := h.Domain(world)
	require.NotNil(t, d, "domain %s not hosted", world)

	res, err := d.Execute(context.Background(), script)
	require.NoError(t, err)
	data, err := json.Marshal(res.Value)
	require.NoError(t, err)
	return string(data)
}

func TestMemoryHostRoundTrip(t *testing.T) {
	m := writeExtension(t, "mem-ext")
	recording := filepath.Join(t.TempDir(), "frames.ndjson.zst")

	h, err := New(context.Background(), Options{
		Config:     testConfig(TransportMemory),
		Manifest:   m,
		RecordPath: recording,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)

	got := execute(t, h, bridge.Main, `TerabithiaBridge['mem-ext'].executeInIsolated('getExtensionId')`)
	assert.JSONEq(t, `{"success":true,"id":"ext-123"}`, got)

	got = execute(t, h, bridge.Isolated, `TerabithiaBridge['mem-ext'].executeInMain('getValueFromMain')`)
	assert.JSONEq(t, `{"success":true,"value":"Example Domain"}`, got)

	require.NoError(t, h.Close())
	assert.Positive(t, h.Recorded())
	assert.EqualValues(t, 2, h.Metrics().Snapshot().CallsCompleted)

	f, err := os.Open(recording)
	require.NoError(t, err)
	defer f.Close()
	records, err := channel.ReadRecording(f)
	require.NoError(t, err)
	assert.Len(t, records, h.Recorded())
}

func TestPageURLFiltersScripts(t *testing.T) {
	m := writeExtension(t, "filter-ext")

	h, err := New(context.Background(), Options{
		Config:   testConfig(TransportMemory),
		Manifest: m,
		PageURL:  "https://other.org/",
	})
	require.NoError(t, err)
	defer h.Close()

	got := execute(t, h, bridge.Isolated, `TerabithiaBridge['filter-ext'].executeInMain('getValueFromMain')`)
	assert.JSONEq(t, `{"success":false,"message":"Unknown command: getValueFromMain"}`, got)
}

func TestRelayHosts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := relay.DefaultConfig()
	cfg.EnableRateLimit = false
	srv := relay.NewServer(cfg, zap.NewNop(), nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	relayURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	m := writeExtension(t, "ws-ext")

	hostCfg := testConfig(TransportWS)
	hostCfg.Transport.RelayURL = relayURL
	hostCfg.Transport.TabID = "tab-ws"

	iso, err := New(context.Background(), Options{Config: hostCfg, Manifest: m, World: bridge.Isolated})
	require.NoError(t, err)
	defer iso.Close()
	main, err := New(context.Background(), Options{Config: hostCfg, Manifest: m, World: bridge.Main})
	require.NoError(t, err)
	defer main.Close()

	assert.Nil(t, iso.Domain(bridge.Main))
	assert.Nil(t, main.Domain(bridge.Isolated))

	client := relay.NewClient(relayURL, relay.DefaultClientConfig())
	require.Eventually(t, func() bool {
		tabs, err := client.Tabs(context.Background())
		return err == nil && tabs["tab-ws"] == 2
	}, 5*time.Second, 10*time.Millisecond)

	got := execute(t, main, bridge.Main, `TerabithiaBridge['ws-ext'].executeInIsolated('getExtensionId')`)
	assert.JSONEq(t, `{"success":true,"id":"ext-123"}`, got)
}

func TestRedisHosts(t *testing.T) {
	mr := miniredis.RunT(t)
	m := writeExtension(t, "redis-ext")

	hostCfg := testConfig(TransportRedis)
	hostCfg.Transport.RedisAddr = mr.Addr()
	hostCfg.Transport.TabID = "tab-redis"

	iso, err := New(context.Background(), Options{Config: hostCfg, Manifest: m, World: bridge.Isolated})
	require.NoError(t, err)
	defer iso.Close()
	main, err := New(context.Background(), Options{Config: hostCfg, Manifest: m, World: bridge.Main})
	require.NoError(t, err)
	defer main.Close()

	got := execute(t, iso, bridge.Isolated, `TerabithiaBridge['redis-ext'].executeInMain('getValueFromMain')`)
	assert.JSONEq(t, `{"success":true,"value":"Example Domain"}`, got)
}

func TestRunReturnsOnCancel(t *testing.T) {
	m := writeExtension(t, "run-ext")
	h, err := New(context.Background(), Options{Config: testConfig(TransportMemory), Manifest: m})
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, h.Run(ctx))
}

func TestNewErrors(t *testing.T) {
	_, err := New(context.Background(), Options{Config: testConfig(TransportMemory)})
	assert.Error(t, err)

	m := writeExtension(t, "bad-ext")
	_, err = New(context.Background(), Options{Config: testConfig("carrier-pigeon"), Manifest: m})
	assert.ErrorContains(t, err, "unknown transport")
}
