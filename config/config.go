// Package config holds the machine configuration read by the rvemu
// command. Files are JSON unless their name ends in .yaml or .yml.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/rvemu/device"
	"github.com/sarchlab/rvemu/emu"
	"github.com/sarchlab/rvemu/icache"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Reference cores accepted by DifftestConfig.Ref.
const (
	RefGo      = "go"
	RefUnicorn = "unicorn"
)

// DeviceConfig enables one device window.
type DeviceConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    uint32 `json:"addr" yaml:"addr"`
}

// DevicesConfig lists the standard devices.
type DevicesConfig struct {
	Serial   DeviceConfig `json:"serial" yaml:"serial"`
	RTC      DeviceConfig `json:"rtc" yaml:"rtc"`
	Keyboard DeviceConfig `json:"keyboard" yaml:"keyboard"`

	// VGA.Addr is the control window; FBAddr the framebuffer.
	VGA       DeviceConfig `json:"vga" yaml:"vga"`
	FBAddr    uint32       `json:"fb_addr" yaml:"fb_addr"`
	VGAWidth  int          `json:"vga_width" yaml:"vga_width"`
	VGAHeight int          `json:"vga_height" yaml:"vga_height"`

	// Audio.Addr is the control window; SBufAddr the stream buffer.
	Audio    DeviceConfig `json:"audio" yaml:"audio"`
	SBufAddr uint32       `json:"sbuf_addr" yaml:"sbuf_addr"`
	SBufSize uint32       `json:"sbuf_size" yaml:"sbuf_size"`
}

// ICacheConfig sizes the decoded-instruction fetch cache.
type ICacheConfig struct {
	Enabled       bool `json:"enabled" yaml:"enabled"`
	Size          int  `json:"size" yaml:"size"`
	Associativity int  `json:"associativity" yaml:"associativity"`
	BlockSize     int  `json:"block_size" yaml:"block_size"`
}

// TraceConfig toggles the debug-level trace categories.
type TraceConfig struct {
	Inst      bool `json:"inst" yaml:"inst"`
	Mem       bool `json:"mem" yaml:"mem"`
	Exception bool `json:"exception" yaml:"exception"`
	Device    bool `json:"device" yaml:"device"`
}

// DifftestConfig enables lockstep checking against a reference core.
type DifftestConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Ref     string `json:"ref" yaml:"ref"`

	// Batch is the number of instructions executed between comparisons.
	Batch uint64 `json:"batch" yaml:"batch"`
}

// Config is the whole machine configuration.
type Config struct {
	// MemBase and MemSize place guest RAM.
	MemBase uint32 `json:"mem_base" yaml:"mem_base"`
	MemSize uint32 `json:"mem_size" yaml:"mem_size"`

	// ResetVector is the PC after reset. Images load here.
	ResetVector uint32 `json:"reset_vector" yaml:"reset_vector"`

	Devices  DevicesConfig  `json:"devices" yaml:"devices"`
	ICache   ICacheConfig   `json:"icache" yaml:"icache"`
	Trace    TraceConfig    `json:"trace" yaml:"trace"`
	Difftest DifftestConfig `json:"difftest" yaml:"difftest"`

	// HaltOnEbreak makes ebreak stop the machine with a0 as exit code.
	HaltOnEbreak bool `json:"halt_on_ebreak" yaml:"halt_on_ebreak"`

	// HostSyscalls services ecall on the host instead of trapping.
	HostSyscalls bool `json:"host_syscalls" yaml:"host_syscalls"`

	// MaxInstructions stops the run after this many instructions. Zero
	// means no limit.
	MaxInstructions uint64 `json:"max_instructions" yaml:"max_instructions"`

	// BatchSize is the number of instructions run between checks for
	// cancellation.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// DefaultConfig returns the standard machine: 128MB of RAM at
// 0x80000000, every device at its usual address, and the fetch cache on.
func DefaultConfig() *Config {
	ic := icache.DefaultConfig()

	return &Config{
		MemBase:     device.DefaultMemBase,
		MemSize:     device.DefaultMemSize,
		ResetVector: device.DefaultMemBase,
		Devices: DevicesConfig{
			Serial:    DeviceConfig{Enabled: true, Addr: device.SerialAddr},
			RTC:       DeviceConfig{Enabled: true, Addr: device.RTCAddr},
			Keyboard:  DeviceConfig{Enabled: true, Addr: device.KeyboardAddr},
			VGA:       DeviceConfig{Enabled: true, Addr: device.VGACtlAddr},
			FBAddr:    device.FBAddr,
			VGAWidth:  400,
			VGAHeight: 300,
			Audio:     DeviceConfig{Enabled: true, Addr: device.AudioCtlAddr},
			SBufAddr:  device.SBufAddr,
			SBufSize:  device.DefaultSBufSize,
		},
		ICache: ICacheConfig{
			Enabled:       true,
			Size:          ic.Size,
			Associativity: ic.Associativity,
			BlockSize:     ic.BlockSize,
		},
		Difftest:     DifftestConfig{Ref: RefGo, Batch: 1},
		HaltOnEbreak: true,
		BatchSize:    emu.DefaultBatchSize,
	}
}

// LoadConfig reads a configuration file. Fields absent from the file keep
// their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return config, nil
}

// SaveConfig writes the configuration, choosing the format from the file
// name the same way LoadConfig does.
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the memory layout, cache geometry and difftest settings.
func (c *Config) Validate() error {
	if c.MemSize == 0 {
		return fmt.Errorf("%w: mem_size must be > 0", ErrInvalid)
	}
	if uint64(c.MemBase)+uint64(c.MemSize) > 1<<32 {
		return fmt.Errorf("%w: memory [0x%08x, +0x%x) wraps the address space",
			ErrInvalid, c.MemBase, c.MemSize)
	}
	if c.ResetVector < c.MemBase || c.ResetVector-c.MemBase >= c.MemSize {
		return fmt.Errorf("%w: reset_vector 0x%08x is outside memory", ErrInvalid, c.ResetVector)
	}
	if c.ResetVector%4 != 0 {
		return fmt.Errorf("%w: reset_vector 0x%08x is not word aligned", ErrInvalid, c.ResetVector)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be > 0", ErrInvalid)
	}

	if c.ICache.Enabled {
		ic := c.ICache
		if ic.BlockSize < 4 || ic.BlockSize&(ic.BlockSize-1) != 0 {
			return fmt.Errorf("%w: icache block_size must be a power of two >= 4", ErrInvalid)
		}
		if ic.Associativity <= 0 || ic.Size <= 0 || ic.Size%(ic.Associativity*ic.BlockSize) != 0 {
			return fmt.Errorf("%w: icache size must be a multiple of associativity * block_size", ErrInvalid)
		}
	}

	if c.Devices.Audio.Enabled && c.Devices.SBufSize < 4 {
		return fmt.Errorf("%w: sbuf_size must be >= 4", ErrInvalid)
	}
	if c.Devices.VGA.Enabled && (c.Devices.VGAWidth <= 0 || c.Devices.VGAHeight <= 0) {
		return fmt.Errorf("%w: vga dimensions must be > 0", ErrInvalid)
	}

	if c.Difftest.Batch == 0 {
		return fmt.Errorf("%w: difftest batch must be > 0", ErrInvalid)
	}
	switch c.Difftest.Ref {
	case RefGo, RefUnicorn:
	default:
		return fmt.Errorf("%w: difftest ref %q is not %q or %q",
			ErrInvalid, c.Difftest.Ref, RefGo, RefUnicorn)
	}

	return nil
}

// CacheConfig returns the fetch cache geometry.
func (c *Config) CacheConfig() icache.Config {
	return icache.Config{
		Size:          c.ICache.Size,
		Associativity: c.ICache.Associativity,
		BlockSize:     c.ICache.BlockSize,
	}
}

// TraceOptions returns the emulator trace toggles.
func (c *Config) TraceOptions() emu.TraceConfig {
	return emu.TraceConfig{
		Inst:      c.Trace.Inst,
		Mem:       c.Trace.Mem,
		Exception: c.Trace.Exception,
		Device:    c.Trace.Device,
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
