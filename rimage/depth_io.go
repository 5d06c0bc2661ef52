package rimage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// maxDimension bounds the frame size accepted from a file.
const maxDimension = 100000

// ReadDepthMapFile reads a depth frame from a 16-bit PNG (scaled by enc) or from the raw
// format written by WriteToFile, optionally gzipped.
func ReadDepthMapFile(fn string, enc DepthEncoding) (*DepthMap, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	if strings.EqualFold(filepath.Ext(fn), ".png") {
		img, err := png.Decode(f)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s", fn)
		}
		return ConvertImageToDepthMap(img, enc)
	}

	var r io.Reader = f
	if filepath.Ext(fn) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(gz.Close)
		r = gz
	}
	return ReadDepthMap(bufio.NewReader(r))
}

func readNext(r io.Reader) (uint64, error) {
	data := make([]byte, 8)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

// ReadDepthMap reads the raw format: little endian uint64 width and height, followed by
// width*height float64 depths in meters, row major.
func ReadDepthMap(r *bufio.Reader) (*DepthMap, error) {
	rawWidth, err := readNext(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading width")
	}
	rawHeight, err := readNext(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading height")
	}
	if rawWidth == 0 || rawWidth >= maxDimension || rawHeight == 0 || rawHeight >= maxDimension {
		return nil, errors.Wrapf(ErrEmptyDepthMap, "bad width or height for depth map %v %v", rawWidth, rawHeight)
	}

	dm := newDepthMap(int(rawWidth), int(rawHeight))
	for i := range dm.data {
		bits, err := readNext(r)
		if err != nil {
			return nil, errors.Wrapf(err, "reading depth %d of %d", i, len(dm.data))
		}
		dm.data[i] = sanitize(math.Float64frombits(bits))
	}
	return dm, nil
}

// WriteToFile writes the depth map in the raw format, gzipped when the name ends in .gz.
func (dm *DepthMap) WriteToFile(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var out io.Writer = f
	var gout *gzip.Writer
	if filepath.Ext(fn) == ".gz" {
		gout = gzip.NewWriter(f)
		out = gout
	}
	buf := bufio.NewWriter(out)
	if err := dm.WriteTo(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if gout != nil {
		if err := gout.Close(); err != nil {
			return err
		}
	}
	return f.Sync()
}

// WriteTo writes the depth map in the raw format.
func (dm *DepthMap) WriteTo(out io.Writer) error {
	buf := make([]byte, 8)
	put := func(v uint64) error {
		binary.LittleEndian.PutUint64(buf, v)
		_, err := out.Write(buf)
		return err
	}
	if err := put(uint64(dm.width)); err != nil {
		return err
	}
	if err := put(uint64(dm.height)); err != nil {
		return err
	}
	for _, z := range dm.data {
		if err := put(math.Float64bits(z)); err != nil {
			return err
		}
	}
	return nil
}

// ToGray16 renders the depth map as a 16-bit image in the given encoding, the inverse of
// NewDepthMapFromGray16 up to quantization.
func (dm *DepthMap) ToGray16(enc DepthEncoding) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, dm.width, dm.height))
	scale := enc.Scale()
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			v := math.Round(dm.GetDepth(x, y) / scale)
			if v > math.MaxUint16 {
				v = math.MaxUint16
			}
			img.Pix[y*img.Stride+2*x] = uint8(uint16(v) >> 8)
			img.Pix[y*img.Stride+2*x+1] = uint8(uint16(v))
		}
	}
	return img
}
