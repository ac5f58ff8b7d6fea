// Package demofs opens and creates demo files, transparently handling gzip
// and zstd compressed demos.
package demofs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Extension is the default demo file extension.
const Extension = ".dm2"

// Extensions lists every demo extension, before any compression suffix.
var Extensions = []string{Extension, ".mvd2"}

// Compression selects the container of a demo file.
type Compression int

const (
	None Compression = iota
	Gzip
	Zstd
)

// Ext returns the file suffix of the compression.
func (c Compression) Ext() string {
	switch c {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

func (c Compression) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	default:
		return "none"
	}
}

// CompressionFor guesses the compression from a file name.
func CompressionFor(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return Gzip
	case ".zst", ".zstd":
		return Zstd
	default:
		return None
	}
}

// File is a seekable demo source.
type File interface {
	io.ReadSeeker
	io.Closer
	// Size returns the decompressed length, or -1 when unknown.
	Size() int64
	Name() string
}

type osFile struct {
	*os.File
	size int64
}

func (f *osFile) Size() int64 { return f.size }

type memFile struct {
	*bytes.Reader
	name string
}

func (f *memFile) Name() string { return f.name }
func (f *memFile) Close() error { return nil }

// Open opens a demo for reading. Compressed demos are decompressed into
// memory so they can be seeked like plain files.
func Open(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	c := CompressionFor(path)
	if c == None {
		size := int64(-1)
		if st, err := f.Stat(); err == nil && st.Mode().IsRegular() {
			size = st.Size()
		}
		return &osFile{File: f, size: size}, nil
	}
	defer f.Close()

	data, err := decompress(f, c)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	return &memFile{Reader: bytes.NewReader(data), name: path}, nil
}

func decompress(r io.Reader, c Compression) ([]byte, error) {
	var buf bytes.Buffer
	switch c {
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		if _, err := io.Copy(&buf, zr); err != nil {
			return nil, err
		}
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		if _, err := io.Copy(&buf, zr); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

type compressedWriter struct {
	io.WriteCloser
	f *os.File
}

func (w *compressedWriter) Close() error {
	err := w.WriteCloser.Close()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Create creates path and its parent directories, truncating an existing
// file. Written data is compressed with c.
func Create(path string, c Compression) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	switch c {
	case Gzip:
		return &compressedWriter{WriteCloser: gzip.NewWriter(f), f: f}, nil
	case Zstd:
		enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, err
		}
		return &compressedWriter{WriteCloser: enc, f: f}, nil
	default:
		return f, nil
	}
}

// Resolve returns the path a new recording called name is written to. The
// demo extension is added unless name already carries one, followed by
// the compression suffix.
func Resolve(dir, name string, c Compression) string {
	if !IsDemo(name) {
		name += Extension
	}
	if !strings.HasSuffix(strings.ToLower(name), c.Ext()) {
		name += c.Ext()
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

// Find locates an existing demo called name, trying it as given, inside dir,
// and with the demo and compression extensions appended.
func Find(dir, name string) (string, error) {
	var candidates []string
	for _, base := range []string{name, filepath.Join(dir, name)} {
		candidates = append(candidates, base)
		if !IsDemo(base) {
			for _, c := range []Compression{None, Gzip, Zstd} {
				candidates = append(candidates, base+Extension+c.Ext())
			}
		}
	}
	for _, path := range candidates {
		st, err := os.Stat(path)
		if err == nil && !st.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("couldn't find %s: %w", name, fs.ErrNotExist)
}

// IsDemo reports whether a file name looks like a demo.
func IsDemo(name string) bool {
	name = strings.ToLower(name)
	for _, ext := range Extensions {
		for _, c := range []Compression{None, Gzip, Zstd} {
			if strings.HasSuffix(name, ext+c.Ext()) {
				return true
			}
		}
	}
	return false
}

var errNotDir = errors.New("not a directory")

// List returns the demo files below dir.
func List(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s: %w", dir, errNotDir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsDemo(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
