package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/cuemby/fetch/pkg/types"
)

func init() {
	register("zip", openZip)
}

// zipIterator requires random access, so the streamed body is first
// buffered to a scratch file (spec.md §4.5: "the adapter buffers the body
// to a scratch file, then iterates entries").
type zipIterator struct {
	scratch *os.File
	zr      *zip.Reader
	idx     int
}

func openZip(body io.Reader) (Iterator, error) {
	scratch, err := os.CreateTemp("", "fetch-zip-*")
	if err != nil {
		return nil, fmt.Errorf("create zip scratch file: %w", err)
	}
	size, err := io.Copy(scratch, body)
	if err != nil {
		scratch.Close()
		os.Remove(scratch.Name())
		return nil, fmt.Errorf("buffer zip body: %w", err)
	}

	zr, err := zip.NewReader(scratch, size)
	if err != nil {
		scratch.Close()
		os.Remove(scratch.Name())
		return nil, fmt.Errorf("open zip reader: %w", err)
	}

	return &zipIterator{scratch: scratch, zr: zr}, nil
}

func (it *zipIterator) Next() (*Member, error) {
	for {
		if it.idx >= len(it.zr.File) {
			return nil, io.EOF
		}
		f := it.zr.File[it.idx]
		it.idx++

		m := &Member{Path: path.Clean(f.Name), MTime: f.Modified}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			m.Type = types.DestDir
		case mode&os.ModeSymlink != 0:
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open zip symlink entry %q: %w", f.Name, err)
			}
			target, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("read zip symlink entry %q: %w", f.Name, err)
			}
			m.Type = types.DestLink
			m.Target = string(target)
		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open zip entry %q: %w", f.Name, err)
			}
			m.Type = types.DestFile
			m.Data = rc
		default:
			continue
		}
		return m, nil
	}
}

func (it *zipIterator) Close() error {
	name := it.scratch.Name()
	err := it.scratch.Close()
	os.Remove(name)
	return err
}
