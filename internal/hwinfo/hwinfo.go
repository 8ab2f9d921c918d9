// Package hwinfo reports which vectorized-XOR CPU features are available,
// so operators can tell whether bitops.XORParallel is getting the
// vectorization it was designed to exploit (spec §5/§9's "vectorized memory
// access" rationale for the rotate-and-XOR trick). Adapted from the
// teacher's AES-NI detector; the feature set checked here is AVX2/NEON
// rather than AES, since RAID-PIR's hot path is XOR, not block-cipher
// encryption.
package hwinfo

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// HasVectorizedXOR reports whether the CPU exposes an instruction set the
// Go compiler's auto-vectorizer can use for the byte-XOR loops in
// bitops.XOR and bitops.XORParallel.
func HasVectorizedXOR() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAVX2
	case "arm64":
		return cpu.ARM64.HasASIMD
	default:
		return false
	}
}

// Info summarizes the hardware features relevant to the XOR hot path.
type Info struct {
	Architecture  string `json:"architecture"`
	GOOS          string `json:"goos"`
	GoVersion     string `json:"go_version"`
	VectorizedXOR bool   `json:"vectorized_xor"`
	AVX2          bool   `json:"avx2,omitempty"`
	NEON          bool   `json:"neon,omitempty"`
	GOMAXPROCS    int    `json:"gomaxprocs"`
}

// Get returns a populated Info for the running process.
func Get() Info {
	info := Info{
		Architecture:  runtime.GOARCH,
		GOOS:          runtime.GOOS,
		GoVersion:     runtime.Version(),
		VectorizedXOR: HasVectorizedXOR(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
	}

	switch runtime.GOARCH {
	case "amd64":
		info.AVX2 = cpu.X86.HasAVX2
	case "arm64":
		info.NEON = cpu.ARM64.HasASIMD
	}

	return info
}
