package main

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"dronecontrol/pkg/drone"
)

const snapshotWidth = 320

var errNoPicture = errors.New("no decoded picture in last frame")

// scaled shrinks img to width, keeping the aspect ratio. Smaller images are returned as is.
func scaled(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() <= width {
		return img
	}

	height := b.Dy() * width / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	return dst
}

// saveSnapshot writes the frame picture as png into dir and returns the file name.
func saveSnapshot(dir string, f drone.Frame) (string, error) {
	if f.Image == nil {
		return "", errNoPicture
	}

	name := filepath.Join(dir, fmt.Sprintf("frame_%06d.png", f.Number))

	fd, err := os.Create(name)
	if err != nil {
		return "", err
	}

	if err := png.Encode(fd, scaled(f.Image, snapshotWidth)); err != nil {
		_ = fd.Close()
		return "", err
	}

	return name, fd.Close()
}
