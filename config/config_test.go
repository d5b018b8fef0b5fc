package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvemu/config"
	"github.com/sarchlab/rvemu/device"
)

var _ = Describe("Config", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "rvemu-config-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	write := func(name, body string) string {
		path := filepath.Join(tempDir, name)
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
		return path
	}

	Describe("DefaultConfig", func() {
		It("should describe the standard machine", func() {
			c := config.DefaultConfig()

			Expect(c.MemBase).To(Equal(device.DefaultMemBase))
			Expect(c.MemSize).To(Equal(device.DefaultMemSize))
			Expect(c.ResetVector).To(Equal(device.DefaultMemBase))
			Expect(c.Devices.Serial).To(Equal(config.DeviceConfig{Enabled: true, Addr: device.SerialAddr}))
			Expect(c.Difftest.Ref).To(Equal(config.RefGo))
			Expect(c.Difftest.Batch).To(Equal(uint64(1)))
			Expect(c.HaltOnEbreak).To(BeTrue())
		})

		It("should be valid", func() {
			Expect(config.DefaultConfig().Validate()).To(Succeed())
		})
	})

	Describe("LoadConfig", func() {
		It("should overlay JSON on the defaults", func() {
			path := write("machine.json", `{
				"mem_size": 65536,
				"max_instructions": 500,
				"trace": {"inst": true},
				"devices": {"vga": {"enabled": false}}
			}`)

			c, err := config.LoadConfig(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(c.MemSize).To(Equal(uint32(65536)))
			Expect(c.MaxInstructions).To(Equal(uint64(500)))
			Expect(c.TraceOptions().Inst).To(BeTrue())
			Expect(c.Devices.VGA.Enabled).To(BeFalse())
			Expect(c.Devices.Serial.Enabled).To(BeTrue())
			Expect(c.MemBase).To(Equal(device.DefaultMemBase))
		})

		It("should read YAML with hexadecimal addresses", func() {
			path := write("machine.yaml", `
mem_base: 0x40000000
mem_size: 0x100000
reset_vector: 0x40000000
devices:
  serial:
    enabled: true
    addr: 0x10000000
difftest:
  enabled: true
  ref: unicorn
  batch: 16
icache:
  enabled: true
  size: 4096
  associativity: 2
  block_size: 32
`)

			c, err := config.LoadConfig(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(c.MemBase).To(Equal(uint32(0x40000000)))
			Expect(c.Devices.Serial.Addr).To(Equal(uint32(0x10000000)))
			Expect(c.Difftest).To(Equal(config.DifftestConfig{Enabled: true, Ref: config.RefUnicorn, Batch: 16}))
			Expect(c.CacheConfig().Associativity).To(Equal(2))
			Expect(c.Validate()).To(Succeed())
		})

		It("should fail on a missing file", func() {
			_, err := config.LoadConfig(filepath.Join(tempDir, "missing.json"))
			Expect(err).To(MatchError(ContainSubstring("failed to read config file")))
		})

		It("should fail on malformed content", func() {
			_, err := config.LoadConfig(write("bad.json", "{"))
			Expect(err).To(MatchError(ContainSubstring("failed to parse config")))
		})
	})

	Describe("SaveConfig", func() {
		DescribeTable("should round-trip through a file",
			func(name string) {
				c := config.DefaultConfig()
				c.MaxInstructions = 1234
				c.Trace.Exception = true
				path := filepath.Join(tempDir, name)

				Expect(c.SaveConfig(path)).To(Succeed())
				loaded, err := config.LoadConfig(path)

				Expect(err).NotTo(HaveOccurred())
				Expect(loaded).To(Equal(c))
			},
			Entry("JSON", "out.json"),
			Entry("YAML", "out.yml"),
		)
	})

	Describe("Validate", func() {
		DescribeTable("should reject",
			func(mutate func(c *config.Config)) {
				c := config.DefaultConfig()
				mutate(c)
				Expect(c.Validate()).To(MatchError(config.ErrInvalid))
			},
			Entry("empty memory", func(c *config.Config) { c.MemSize = 0 }),
			Entry("memory past 4GB", func(c *config.Config) { c.MemBase = 0xFFFF0000 }),
			Entry("reset vector below memory", func(c *config.Config) { c.ResetVector = 0x1000 }),
			Entry("unaligned reset vector", func(c *config.Config) { c.ResetVector = c.MemBase + 2 }),
			Entry("zero batch", func(c *config.Config) { c.BatchSize = 0 }),
			Entry("odd block size", func(c *config.Config) { c.ICache.BlockSize = 48 }),
			Entry("uneven cache size", func(c *config.Config) { c.ICache.Size = 1000 }),
			Entry("tiny stream buffer", func(c *config.Config) { c.Devices.SBufSize = 2 }),
			Entry("empty display", func(c *config.Config) { c.Devices.VGAWidth = 0 }),
			Entry("unknown reference", func(c *config.Config) { c.Difftest.Ref = "spike" }),
			Entry("zero difftest batch", func(c *config.Config) { c.Difftest.Batch = 0 }),
		)

		It("should ignore cache geometry when the cache is off", func() {
			c := config.DefaultConfig()
			c.ICache.Enabled = false
			c.ICache.BlockSize = 0

			Expect(c.Validate()).To(Succeed())
		})
	})
})
