package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultDomain, cfg.Domain)
	assert.Equal(t, "wss://"+DefaultDomain+"/ws", cfg.SignalingURL)
	assert.Equal(t, "https://"+DefaultDomain+"/api", cfg.APIURL)
	assert.Equal(t, DefaultSTUN, cfg.GetSTUNServers())
	assert.Equal(t, time.Second, cfg.TypingTimeout)
	assert.Equal(t, 1280, cfg.VideoWidth)
}

func TestFlagBeatsEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HUDDLE_DOMAIN", "env.example.com")
	t.Setenv("HUDDLE_CODEC", "msgpack")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("domain", "", "")
	require.NoError(t, fs.Parse([]string{"--domain", "flag.example.com"}))

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, "flag.example.com", cfg.Domain)
	assert.Equal(t, "msgpack", cfg.Codec)
}

func TestValidateRejectsTURN(t *testing.T) {
	cfg := &Config{
		Codec:       "json",
		MediaSource: "synthetic",
		STUNServers: []string{"turn:turn.example.com:3478"},
		VideoWidth:  640,
		VideoHeight: 480,
	}
	assert.Error(t, cfg.Validate())

	cfg.STUNServers = []string{"stun:stun.example.com:3478"}
	assert.NoError(t, cfg.Validate())

	cfg.Codec = "xml"
	assert.Error(t, cfg.Validate())
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
