// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"errors"
	"io"
	"io/fs"
	"strings"
	"sync"
)

type fileOptions struct {
	optional bool
}

// FileOption configures [OpenFile].
type FileOption func(*fileOptions)

// Optional makes a missing file read as empty instead of failing.
func Optional() FileOption {
	return func(fo *fileOptions) {
		fo.optional = true
	}
}

// FileReader is an io.ReadCloser which opens its file on the first Read.
type FileReader struct {
	fsys     fs.FS
	path     string
	optional bool

	openOnce sync.Once
	openErr  error
	r        io.Reader
	file     io.Closer
}

// OpenFile returns a [FileReader] for path within fsys. An empty path
// always reads as empty.
func OpenFile(fsys fs.FS, path string, opts ...FileOption) *FileReader {
	fo := &fileOptions{}
	for _, opt := range opts {
		opt(fo)
	}
	return &FileReader{
		fsys:     fsys,
		path:     path,
		optional: fo.optional,
	}
}

func (fr *FileReader) open() {
	if fr.path == "" {
		fr.r = strings.NewReader("")
		return
	}

	f, err := fr.fsys.Open(fr.path)
	if errors.Is(err, fs.ErrNotExist) && fr.optional {
		fr.r = strings.NewReader("")
		return
	}
	if err != nil {
		fr.openErr = err
		return
	}
	fr.r = f
	fr.file = f
}

// Read implements the [io.Reader] interface.
func (fr *FileReader) Read(b []byte) (int, error) {
	fr.openOnce.Do(fr.open)
	if fr.openErr != nil {
		return 0, fr.openErr
	}
	return fr.r.Read(b)
}

// Close implements the [io.Closer] interface. Closing a reader which was
// never read from is a no-op.
func (fr *FileReader) Close() error {
	if fr.file == nil {
		return nil
	}

	err := fr.file.Close()
	fr.file = nil
	return err
}
