// Package docstream turns an OSM XML document into a forward-only sequence
// of element open/close events without materializing the whole tree.
package docstream

import (
	"compress/bzip2"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/wegman-software/osmload/internal/errs"
)

// Stream produces element events from a single pass over an XML source.
// It is not restartable; reopen the source to read it again.
type Stream struct {
	dec     *xml.Decoder
	counter *countingReader
	size    int64
	stack   []*Element
	sawRoot bool
	closers []func() error
}

// Open opens an OSM XML file for streaming. Files ending in .gz, .zst or
// .bz2 are decompressed on the fly; progress is always measured against
// the on-disk size.
func Open(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrSourceOpen, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", errs.ErrSourceOpen, err)
	}

	counter := &countingReader{r: f}
	var reader io.Reader = counter
	closers := []func() error{f.Close}

	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(counter)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: gzip: %w", errs.ErrSourceOpen, err)
		}
		reader = gz
		closers = append(closers, gz.Close)
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(counter, zstd.WithDecoderConcurrency(1))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: zstd: %w", errs.ErrSourceOpen, err)
		}
		reader = zr
		closers = append(closers, func() error {
			zr.Close()
			return nil
		})
	case strings.HasSuffix(path, ".bz2"):
		reader = bzip2.NewReader(counter)
	}

	s := newStream(reader, counter, info.Size())
	s.closers = closers
	return s, nil
}

// NewStream streams events from r. size is the total input length used for
// progress reporting; pass 0 when unknown.
func NewStream(r io.Reader, size int64) *Stream {
	counter := &countingReader{r: r}
	return newStream(counter, counter, size)
}

func newStream(r io.Reader, counter *countingReader, size int64) *Stream {
	return &Stream{
		dec:     xml.NewDecoder(r),
		counter: counter,
		size:    size,
		stack:   make([]*Element, 0, 8),
	}
}

// Next returns the next open or close event. It returns io.EOF once the
// document is complete and an error wrapping errs.ErrParse if the markup is
// not well formed.
func (s *Stream) Next() (Event, error) {
	for {
		token, err := s.dec.Token()
		if errors.Is(err, io.EOF) {
			if len(s.stack) > 0 {
				return Event{}, fmt.Errorf("%w: unexpected end of input inside <%s>",
					errs.ErrParse, s.stack[len(s.stack)-1].Name)
			}
			if !s.sawRoot {
				return Event{}, fmt.Errorf("%w: no root element", errs.ErrParse)
			}
			return Event{}, io.EOF
		}
		if err != nil {
			return Event{}, fmt.Errorf("%w: %w", errs.ErrParse, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if len(s.stack) == 0 && s.sawRoot {
				return Event{}, fmt.Errorf("%w: second root element <%s>", errs.ErrParse, t.Name.Local)
			}
			el := &Element{
				Name:  t.Name.Local,
				Attrs: t.Attr,
				Depth: len(s.stack),
			}
			if n := len(s.stack); n > 0 {
				parent := s.stack[n-1]
				parent.Children = append(parent.Children, el)
				el.parent = parent
			}
			s.stack = append(s.stack, el)
			s.sawRoot = true
			return Event{Kind: ElementOpened, Element: el}, nil

		case xml.EndElement:
			n := len(s.stack)
			el := s.stack[n-1]
			s.stack[n-1] = nil
			s.stack = s.stack[:n-1]
			return Event{Kind: ElementClosed, Element: el}, nil
		}
	}
}

// BytesRead returns how many bytes have been consumed from the underlying
// source so far.
func (s *Stream) BytesRead() int64 {
	return s.counter.n
}

// Size returns the total size of the source, or 0 if unknown.
func (s *Stream) Size() int64 {
	return s.size
}

// Close releases the source and any decompressor.
func (s *Stream) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
