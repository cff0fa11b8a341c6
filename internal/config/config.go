// Package config defines the reconstruction job's Config, its JSON file
// override, and the mode presets mapping onto bucketing tuning knobs —
// the same shape as the teacher's client/server Config plus mode-name
// switch, generalized from KCP tuning to bucket tuning.
package config

import (
	"encoding/json"
	"os"
)

// Config is the full set of tunables for a reconstruction run.
type Config struct {
	Input         []string `json:"input"`
	Output        string   `json:"output"`
	Mode          string   `json:"mode"`
	MaxSplats     int      `json:"maxsplats"`
	MaxCells      int64    `json:"maxcells"`
	MaxSplit      int      `json:"maxsplit"`
	ChunkCells    int64    `json:"chunkcells"`
	Spacing       float64  `json:"spacing"`
	Devices       int      `json:"devices"`
	WorkersEach   int      `json:"workerseach"`
	ItemPool      int      `json:"itempool"`
	MaxItemSplats int      `json:"maxitemsplats"`
	StatsLog      string   `json:"statslog"`
	StatsPeriod   int      `json:"statsperiod"`
	Log           string   `json:"log"`
	Quiet         bool     `json:"quiet"`
}

// Default returns the baseline config before mode presets or a JSON
// override are applied.
func Default() Config {
	return Config{
		Mode:          "normal",
		MaxSplats:     1 << 20,
		MaxCells:      256,
		MaxSplit:      4096,
		ChunkCells:    1024,
		Spacing:       1,
		Devices:       1,
		WorkersEach:   2,
		ItemPool:      4,
		MaxItemSplats: 1 << 18,
		StatsPeriod:   30,
	}
}

// modePreset is (maxBucketSplats, maxCells, maxSplit), mirroring the
// teacher's (NoDelay, Interval, Resend, NoCongestion) mode tuples.
type modePreset struct {
	maxSplats int
	maxCells  int64
	maxSplit  int
}

var modePresets = map[string]modePreset{
	"fast":   {maxSplats: 1 << 18, maxCells: 128, maxSplit: 2048},
	"fast2":  {maxSplats: 1 << 17, maxCells: 64, maxSplit: 1024},
	"fast3":  {maxSplats: 1 << 16, maxCells: 32, maxSplit: 512},
	"normal": {maxSplats: 1 << 20, maxCells: 256, maxSplit: 4096},
}

// ApplyMode overwrites the bucketing knobs from the named preset, the way
// the teacher's mode switch overwrites NoDelay/Interval/Resend/NoCongestion.
// Unknown mode names leave c unchanged.
func (c *Config) ApplyMode() {
	preset, ok := modePresets[c.Mode]
	if !ok {
		return
	}
	c.MaxSplats, c.MaxCells, c.MaxSplit = preset.maxSplats, preset.maxCells, preset.maxSplit
}

// ParseJSONFile decodes a JSON override file into config, the same
// json.NewDecoder(file).Decode(config) shape as the teacher's
// parseJSONConfig.
func ParseJSONFile(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(config)
}
