package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "rpc_section": {"server_host": "0.0.0.0", "server_port": 30000},
  "adb_section": {"server_host": "localhost", "server_port": 5037,
                  "read_timeout_ms": 1000, "write_timeout_ms": 1000},
  "gpio_section": {"pin_config": {"2": 12, "3": 13}},
  "controller_section": {"controllers": [
    {"name": "i2c", "data": {"buses": {"1": {"sda": 2, "scl": 3}}}}
  ]},
  "device_section": {"devices": [
    {"driver": "tsl2591", "friendly_name": "light0", "driver_data": null}
  ]}
}`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:30000", cfg.RPC.Addr())
	require.Equal(t, "localhost:5037", cfg.ADB.Addr())
	require.Equal(t, uint8(12), cfg.GPIO.PinConfig[2])
	require.Len(t, cfg.Controllers.Controllers, 1)
	require.Equal(t, "i2c", cfg.Controllers.Controllers[0].Name)
	require.Len(t, cfg.Devices.Devices, 1)
	require.Equal(t, "light0", cfg.Devices.Devices[0].FriendlyName)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	e, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, CodeSerialize, e.C)
}

func TestValidation(t *testing.T) {
	base := func() *Config {
		cfg, err := Parse([]byte(sampleConfig))
		require.NoError(t, err)
		return cfg
	}

	t.Run("bad rpc host", func(t *testing.T) {
		cfg := base()
		cfg.RPC.ServerHost = "not an ip"
		require.Error(t, cfg.Validate())
	})

	t.Run("zero rpc port", func(t *testing.T) {
		cfg := base()
		cfg.RPC.ServerPort = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("zero adb port", func(t *testing.T) {
		cfg := base()
		cfg.ADB.ServerPort = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("duplicate bcm id", func(t *testing.T) {
		cfg := base()
		cfg.GPIO.PinConfig = map[uint8]uint8{2: 12, 3: 12}
		require.Error(t, cfg.Validate())
	})

	t.Run("duplicate controller", func(t *testing.T) {
		cfg := base()
		cfg.Controllers.Controllers = append(cfg.Controllers.Controllers,
			cfg.Controllers.Controllers[0])
		err := cfg.Validate()
		e, ok := err.(*Error)
		require.True(t, ok)
		require.Equal(t, CodeDuplicate, e.C)
	})

	t.Run("empty controller name", func(t *testing.T) {
		cfg := base()
		cfg.Controllers.Controllers[0].Name = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("empty driver name", func(t *testing.T) {
		cfg := base()
		cfg.Devices.Devices[0].Driver = ""
		require.Error(t, cfg.Validate())
	})
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestSaveKeepsBackupAndPrettyPrints(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)

	cfg.RPC.ServerPort = 30001
	require.NoError(t, Save(path, cfg))

	// previous copy preserved
	backup, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	require.Equal(t, sampleConfig, string(backup))

	// rewritten file is pretty-printed and reloads with the change
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "\n  ")

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint16(30001), reloaded.RPC.ServerPort)
}

func TestRoundTripPreservesRawEntries(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	data, err := cfg.Marshal(false)
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)

	var buses map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(again.Controllers.Controllers[0].Data, &buses))
	require.Contains(t, buses, "buses")
}
