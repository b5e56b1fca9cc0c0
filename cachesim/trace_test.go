package cachesim

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/mlreplace/replacement"
)

var _ = Describe("ReadTrace", func() {
	It("should parse accesses", func() {
		trace := `# ip kind addr
0x401000 R 0x7ffd0040

401004 w 7FFD0080
0x401008 P 0x1000
0x40100c F 0x2000
0x401010 T 0x3000
`
		entries, err := ReadTrace(strings.NewReader(trace))

		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(Equal([]TraceEntry{
			{IP: 0x401000, Kind: replacement.AccessLoad, Addr: 0x7ffd0040},
			{IP: 0x401004, Kind: replacement.AccessWrite, Addr: 0x7ffd0080},
			{IP: 0x401008, Kind: replacement.AccessPrefetch, Addr: 0x1000},
			{IP: 0x40100c, Kind: replacement.AccessRFO, Addr: 0x2000},
			{IP: 0x401010, Kind: replacement.AccessTranslation, Addr: 0x3000},
		}))
	})

	It("should report the line of a bad access kind", func() {
		_, err := ReadTrace(strings.NewReader("0x1 R 0x40\n0x2 X 0x80\n"))

		Expect(err).To(MatchError(ContainSubstring("line 2")))
	})

	It("should reject lines with missing fields", func() {
		_, err := ReadTrace(strings.NewReader("0x1 R\n"))

		Expect(err).To(HaveOccurred())
	})

	It("should reject addresses that are not hexadecimal", func() {
		_, err := ReadTrace(strings.NewReader("0x1 R 0xZZ\n"))

		Expect(err).To(MatchError(ContainSubstring("invalid address")))
	})
})
