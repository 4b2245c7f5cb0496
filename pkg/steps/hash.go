package steps

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/systemstart/backupflow/pkg/api"
	"github.com/systemstart/backupflow/pkg/stat"
)

const mebibyte = 1024 * 1024

var hashes = map[string]func() hash.Hash{
	"md5":      md5.New,
	"sha1":     sha1.New,
	"sha224":   sha256.New224,
	"sha256":   sha256.New,
	"sha384":   sha512.New384,
	"sha512":   sha512.New,
	"sha3_256": sha3.New256,
	"sha3_512": sha3.New512,
	"blake2b_256": func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	},
	"blake2b_512": func() hash.Hash {
		h, _ := blake2b.New512(nil)
		return h
	},
}

// HashTypes lists the supported hash_type values.
func HashTypes() []string {
	res := make([]string, 0, len(hashes))
	for name := range hashes {
		res = append(res, name)
	}
	slices.Sort(res)
	return res
}

type fileHashStep struct {
	base
}

func newFileHashStep(p Params) (Step, error) {
	return &fileHashStep{base: newBase(p)}, nil
}

func (s *fileHashStep) Run(_ context.Context, entry *stat.Entry, dryRun bool) (map[string]any, error) {
	input, err := s.param("input_file_name")
	if err != nil {
		return nil, err
	}
	output, err := s.param("output_file_name")
	if err != nil {
		return nil, err
	}
	hashType, err := s.param("hash_type")
	if err != nil {
		return nil, err
	}

	newHash, ok := hashes[hashType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported hash type %q", api.ErrDryRunValidation, hashType)
	}

	if dryRun {
		return s.outputs(nil)
	}

	slog.Info("calculating hash", "step", s.name, "file", input, "hashType", hashType)

	started := time.Now()
	sum, size, err := hashFile(input, newHash())
	if err != nil {
		return nil, err
	}
	spent := time.Since(started).Seconds()

	line := fmt.Sprintf("%s *%s\n", sum, filepath.Base(input))
	if err := os.WriteFile(output, []byte(line), 0o600); err != nil {
		return nil, fmt.Errorf("writing %s: %w", output, err)
	}

	sizeMiB := float64(size) / mebibyte
	entry.Metrics.Set("Hashed File", filepath.Base(input), "")
	entry.Metrics.Set("Hash Type", hashType, "")
	entry.Metrics.Set("File Size", round(sizeMiB, 2), "MiB")
	if spent > 0 {
		entry.Metrics.Set("Hash Speed", round(sizeMiB/spent, 2), "MiB/s")
	} else {
		entry.Metrics.Set("Hash Speed", "N/A", "MiB/s")
	}

	return s.outputs(nil)
}

func hashFile(path string, h hash.Hash) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
