package main

import (
	"image"
	"image/draw"
	// register png for frames in other formats.
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.uber.org/multierr"
	"golang.org/x/image/tiff"

	"github.com/beamline/viewscreen/ndarray"
)

// readFrame decodes a TIFF, PPM, QOI or PNG camera image into a new frame from pool.
func readFrame(pool *ndarray.Pool, path string) (frame *ndarray.Frame, err error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		img, err = tiff.Decode(f)
	case ".ppm":
		img, err = ppm.Decode(f)
	case ".qoi":
		img, err = qoi.Decode(f)
	default:
		img, _, err = image.Decode(f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %s", path)
	}
	return pool.FromImage(img)
}

// writeFrame renders frame as a 16-bit gray image in the given format.
func writeFrame(path, format string, frame *ndarray.Frame) (err error) {
	img, err := ndarray.ToGray16(frame)
	if err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	switch format {
	case formatTIFF:
		return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate})
	case formatPPM:
		// ppm only encodes 8-bit RGB
		rgba := image.NewRGBA(img.Bounds())
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
		return ppm.Encode(f, rgba)
	case formatQOI:
		return qoi.Encode(f, img)
	default:
		return errors.Errorf("unknown image format %q", format)
	}
}

func frameExtension(format string) string {
	switch format {
	case formatPPM:
		return ".ppm"
	case formatQOI:
		return ".qoi"
	default:
		return ".tiff"
	}
}
