package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const minimal = `
gateway:
  id: "a84041fffe123456"
server:
  address: "ns.example.com"
`

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 1700, cfg.Server.PortUp)
	require.Equal(t, 5*time.Second, cfg.Server.KeepaliveInterval)
	require.Equal(t, 45*time.Second, cfg.Server.StatInterval)
	require.Equal(t, 100*time.Millisecond, cfg.Server.PushTimeout)
	require.Equal(t, 200*time.Millisecond, cfg.Server.PullTimeout)

	require.Equal(t, "EU868", cfg.Radio.Region)
	require.Equal(t, uint32(868100000), cfg.Radio.Frequency)
	require.Equal(t, 7, cfg.Radio.SpreadFactor)
	require.Equal(t, uint32(125000), cfg.Radio.Bandwidth)
	require.Equal(t, uint8(0x34), cfg.Radio.SyncWord)
	require.Equal(t, uint32(863000000), cfg.Radio.TxFreqMin)
	require.Equal(t, uint32(870000000), cfg.Radio.TxFreqMax)
	require.Equal(t, 16, cfg.Radio.TxPowerMax)
	require.Equal(t, 8, cfg.Radio.RingSize)

	require.Equal(t, 32, cfg.JIT.Capacity)
	require.Equal(t, 32500*time.Microsecond, cfg.JIT.StartDelay+cfg.JIT.MarginDelay+cfg.JIT.JitDelay)
	require.Equal(t, "/var/iot/push", cfg.Spool.Path)
	require.Equal(t, "GPSHAT", cfg.Gateway.Platform)
	require.Equal(t, "console", cfg.Log.Format)

	eui, err := cfg.Gateway.EUI()
	require.NoError(t, err)
	require.Equal(t, "a84041fffe123456", eui.String())
}

func TestRegionLimits(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
radio:
  region: us915
  tx_power_max: 20
`))
	require.NoError(t, err)
	require.Equal(t, "US915", cfg.Radio.Region)
	require.Equal(t, uint32(923000000), cfg.Radio.TxFreqMin)
	require.Equal(t, 20, cfg.Radio.TxPowerMax)

	_, err = Parse([]byte(minimal + `
radio:
  region: mars
`))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_ID", "0102030405060708")
	t.Setenv("SERVER_ADDRESS", "10.0.0.1")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	require.Equal(t, "0102030405060708", cfg.Gateway.ID)
	require.Equal(t, "10.0.0.1", cfg.Server.Address)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	for name, body := range map[string]string{
		"no id":      "server:\n  address: x\n",
		"bad id":     "gateway:\n  id: zz\n",
		"sf":         minimal + "radio:\n  spread_factor: 13\n",
		"bandwidth":  minimal + "radio:\n  bandwidth: 62500\n",
		"driver":     minimal + "radio:\n  driver: sx1301\n",
		"tx range":   minimal + "radio:\n  tx_freq_min: 900000000\n  tx_freq_max: 800000000\n",
		"api no jwt": minimal + "api:\n  enabled: true\n",
		"timeouts":   minimal[:len(minimal)-1] + "\n  keepalive_interval: 100ms\n",
	} {
		cfg, err := Parse([]byte(body))
		require.NoError(t, err, name)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkt-fwd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ns.example.com", cfg.Server.Address)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
