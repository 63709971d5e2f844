// Package bundle packs built application images into a single compressed archive.
//
// Layout (all integers little endian):
//
//	header   "APPB" | version u32 | codec u32 | tocOffset u64 | count u32
//	data     one compressed stream per entry
//	toc      count * (base u64 | offset u64 | size u64 | decSize u64 | nameLen u16 | name)
package bundle

import (
	"encoding/binary"
	"io"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"

	"github.com/ngld/appbase/pkg/allocator"
)

const (
	magic      = "APPB"
	version    = 1
	headerSize = 4 + 4 + 4 + 8 + 4
	entrySize  = 8 * 4
)

// ErrNotFound is returned by Extract for unknown entries.
var ErrNotFound = eris.New("entry not found")

// Codec selects the compression used for entry data
type Codec uint32

// Available codecs
const (
	CodecBrotli Codec = 1
	CodecXZ     Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecBrotli:
		return "brotli"
	case CodecXZ:
		return "xz"
	default:
		return "unknown"
	}
}

// ParseCodec turns "brotli" or "xz" into a Codec.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "brotli", "br":
		return CodecBrotli, nil
	case "xz":
		return CodecXZ, nil
	default:
		return 0, eris.Errorf("unknown codec %s", name)
	}
}

func (c Codec) compressor(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecBrotli:
		return brotli.NewWriterLevel(w, brotli.BestCompression), nil
	case CodecXZ:
		return xz.NewWriter(w)
	default:
		return nil, eris.Errorf("unsupported codec %d", c)
	}
}

func (c Codec) decompressor(r io.Reader) (io.Reader, error) {
	switch c {
	case CodecBrotli:
		return brotli.NewReader(r), nil
	case CodecXZ:
		return xz.NewReader(r)
	default:
		return nil, eris.Errorf("unsupported codec %d", c)
	}
}

// Entry contains the metadata for a packed image
type Entry struct {
	Name    string
	Base    allocator.Address
	Offset  uint64
	Size    uint64
	DecSize uint64
}

// Writer creates a bundle
type Writer struct {
	hdl     *os.File
	codec   Codec
	entries []Entry
	names   map[string]bool
	buffer  []byte
}

// NewWriter creates filename and opens it for writing.
func NewWriter(filename string, codec Codec) (*Writer, error) {
	if codec.String() == "unknown" {
		return nil, eris.Errorf("unsupported codec %d", codec)
	}

	hdl, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create %s", filename)
	}

	// the header is written last, once the TOC offset is known
	_, err = hdl.Seek(headerSize, io.SeekStart)
	if err != nil {
		hdl.Close()
		return nil, eris.Wrap(err, "Failed to skip header")
	}

	return &Writer{
		hdl:     hdl,
		codec:   codec,
		entries: make([]Entry, 0),
		names:   map[string]bool{},
		buffer:  make([]byte, 32*1024),
	}, nil
}

// Add compresses everything read from reader into a new entry.
func (w *Writer) Add(name string, base allocator.Address, reader io.Reader) error {
	if name == "" || len(name) > 0xffff {
		return eris.Errorf("invalid entry name %q", name)
	}

	if w.names[name] {
		return eris.Errorf("duplicate entry %s", name)
	}

	offset, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return eris.Wrap(err, "Failed to determine offset")
	}

	cw, err := w.codec.compressor(w.hdl)
	if err != nil {
		return eris.Wrapf(err, "Failed to set up %s compressor", w.codec)
	}

	decSize, err := io.CopyBuffer(cw, reader, w.buffer)
	if err != nil {
		cw.Close()
		return eris.Wrapf(err, "Failed to compress %s", name)
	}

	err = cw.Close()
	if err != nil {
		return eris.Wrapf(err, "Failed to compress %s", name)
	}

	newPos, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		return eris.Wrap(err, "Failed to determine offset")
	}

	w.entries = append(w.entries, Entry{
		Name:    name,
		Base:    base,
		Offset:  uint64(offset),
		Size:    uint64(newPos - offset),
		DecSize: uint64(decSize),
	})
	w.names[name] = true

	return nil
}

// Close writes the TOC and header and closes the file
func (w *Writer) Close() error {
	tocOffset, err := w.hdl.Seek(0, io.SeekCurrent)
	if err != nil {
		w.hdl.Close()
		return eris.Wrap(err, "Failed to determine TOC offset")
	}

	buffer := make([]byte, entrySize+2)
	for _, entry := range w.entries {
		binary.LittleEndian.PutUint64(buffer[0:8], uint64(entry.Base))
		binary.LittleEndian.PutUint64(buffer[8:16], entry.Offset)
		binary.LittleEndian.PutUint64(buffer[16:24], entry.Size)
		binary.LittleEndian.PutUint64(buffer[24:32], entry.DecSize)
		binary.LittleEndian.PutUint16(buffer[32:34], uint16(len(entry.Name)))

		_, err = w.hdl.Write(buffer)
		if err == nil {
			_, err = w.hdl.WriteString(entry.Name)
		}
		if err != nil {
			w.hdl.Close()
			return eris.Wrapf(err, "Failed to write TOC entry for %s", entry.Name)
		}
	}

	header := make([]byte, headerSize)
	copy(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], version)
	binary.LittleEndian.PutUint32(header[8:12], uint32(w.codec))
	binary.LittleEndian.PutUint64(header[12:20], uint64(tocOffset))
	binary.LittleEndian.PutUint32(header[20:24], uint32(len(w.entries)))

	_, err = w.hdl.WriteAt(header, 0)
	if err != nil {
		w.hdl.Close()
		return eris.Wrap(err, "Failed to write header")
	}

	err = w.hdl.Close()
	if err != nil {
		return eris.Wrap(err, "Failed to close bundle")
	}

	return nil
}

// Reader provides access to the entries of an existing bundle
type Reader struct {
	hdl     *os.File
	codec   Codec
	entries []Entry
}

// Open reads the header and TOC of the bundle at path.
func Open(path string) (*Reader, error) {
	hdl, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to open %s", path)
	}

	r := &Reader{hdl: hdl}
	err = r.readIndex()
	if err != nil {
		hdl.Close()
		return nil, eris.Wrapf(err, "Failed to read %s", path)
	}

	return r, nil
}

func (r *Reader) readIndex() error {
	info, err := r.hdl.Stat()
	if err != nil {
		return err
	}

	header := make([]byte, headerSize)
	_, err = io.ReadFull(r.hdl, header)
	if err != nil {
		return eris.Wrap(err, "truncated header")
	}

	if string(header[0:4]) != magic {
		return eris.New("not an application bundle")
	}

	if v := binary.LittleEndian.Uint32(header[4:8]); v != version {
		return eris.Errorf("unsupported bundle version %d", v)
	}

	r.codec = Codec(binary.LittleEndian.Uint32(header[8:12]))
	if r.codec.String() == "unknown" {
		return eris.Errorf("unsupported codec %d", r.codec)
	}

	tocOffset := binary.LittleEndian.Uint64(header[12:20])
	count := binary.LittleEndian.Uint32(header[20:24])
	fileSize := uint64(info.Size())
	if tocOffset < headerSize || tocOffset > fileSize {
		return eris.Errorf("invalid TOC offset %d", tocOffset)
	}

	if uint64(count) > (fileSize-tocOffset)/(entrySize+2) {
		return eris.Errorf("TOC claims %d entries but only has room for fewer", count)
	}

	toc := io.NewSectionReader(r.hdl, int64(tocOffset), int64(fileSize-tocOffset))
	buffer := make([]byte, entrySize+2)
	r.entries = make([]Entry, 0, count)
	for idx := uint32(0); idx < count; idx++ {
		_, err = io.ReadFull(toc, buffer)
		if err != nil {
			return eris.Wrapf(err, "truncated TOC entry %d", idx)
		}

		entry := Entry{
			Base:    allocator.Address(binary.LittleEndian.Uint64(buffer[0:8])),
			Offset:  binary.LittleEndian.Uint64(buffer[8:16]),
			Size:    binary.LittleEndian.Uint64(buffer[16:24]),
			DecSize: binary.LittleEndian.Uint64(buffer[24:32]),
		}

		name := make([]byte, binary.LittleEndian.Uint16(buffer[32:34]))
		_, err = io.ReadFull(toc, name)
		if err != nil {
			return eris.Wrapf(err, "truncated TOC entry %d", idx)
		}
		entry.Name = string(name)

		if entry.Offset < headerSize || entry.Offset+entry.Size > tocOffset {
			return eris.Errorf("entry %s points outside of the data section", entry.Name)
		}

		r.entries = append(r.entries, entry)
	}

	return nil
}

// Codec returns the compression used by this bundle.
func (r *Reader) Codec() Codec {
	return r.codec
}

// Entries returns the TOC in the order the entries were added.
func (r *Reader) Entries() []Entry {
	result := make([]Entry, len(r.entries))
	copy(result, r.entries)
	return result
}

// Extract decompresses the entry name into w.
func (r *Reader) Extract(name string, w io.Writer) error {
	for _, entry := range r.entries {
		if entry.Name != name {
			continue
		}

		section := io.NewSectionReader(r.hdl, int64(entry.Offset), int64(entry.Size))
		dr, err := r.codec.decompressor(section)
		if err != nil {
			return eris.Wrapf(err, "Failed to decompress %s", name)
		}

		written, err := io.Copy(w, dr)
		if err != nil {
			return eris.Wrapf(err, "Failed to decompress %s", name)
		}

		if uint64(written) != entry.DecSize {
			return eris.Errorf("%s: expected %d bytes but got %d", name, entry.DecSize, written)
		}

		return nil
	}

	return eris.Wrapf(ErrNotFound, "%s", name)
}

func (r *Reader) Close() error {
	return r.hdl.Close()
}
