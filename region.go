package jpegops

import (
	"encoding/binary"
	"fmt"
	"image"
)

// readRegion implements the Region Router (spec.md §4.4): it walks the
// file grid intersected by the requested window, in the level's pre-scale
// coordinate space, and calls readTile for each intersected fragment.
// x, y, w, h are in the level's published (scaled) coordinate space.
func readRegion(level *Level, x, y, w, h int, dest []byte) error {
	s := level.scaleDenom
	d := level.noScaleDenomDownsample

	srcX := (x * d / s) * s
	srcY := (y * d / s) * s

	endSrcX := srcX + w*s
	if endSrcX > level.pixelW {
		endSrcX = level.pixelW
	}

	endSrcY := srcY + h*s
	if endSrcY > level.pixelH {
		endSrcY = level.pixelH
	}

	destRow := 0

	for curY := srcY; curY < endSrcY; {
		fileY := curY / level.image00H
		originY := fileY * level.image00H

		endInFileY := (fileY + 1) * level.image00H
		if endInFileY > endSrcY {
			endInFileY = endSrcY
		}
		endInFileY -= originY

		startInFileY := curY - originY
		tileDestH := (endInFileY - startInFileY) / s

		destCol := 0

		for curX := srcX; curX < endSrcX; {
			fileX := curX / level.image00W
			originX := fileX * level.image00W

			endInFileX := (fileX + 1) * level.image00W
			if endInFileX > endSrcX {
				endInFileX = endSrcX
			}
			endInFileX -= originX

			startInFileX := curX - originX
			tileDestW := (endInFileX - startInFileX) / s

			idx := fileY*level.jpegsAcross + fileX
			if idx < 0 || idx >= len(level.jpegs) || level.jpegs[idx] == nil {
				return ErrMissingFragment
			}

			if tileDestW > 0 && tileDestH > 0 {
				destOffset := destRow*w + destCol
				if err := readTile(level.jpegs[idx], startInFileX, startInFileY, s, tileDestW, tileDestH, w, dest, destOffset); err != nil {
					return err
				}
			}

			curX = originX + endInFileX
			destCol += tileDestW
		}

		curY = originY + endInFileY
		destRow += tileDestH
	}

	return nil
}

// ceilDiv returns ceil(a/b) for non-negative a and positive b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// readTile implements the One-JPEG Reader (spec.md §4.5): a single
// random-access decode of fragment oj's sub-rectangle at (x,y) (the
// fragment's own pixel coordinates, pre-scale) sized destW x destH at
// scale s, expanded to BGRA and written into dest at destOffset with
// row pitch strideW (in pixels).
func readTile(oj *OneJpeg, x, y, s, destW, destH, strideW int, dest []byte, destOffset int) error {
	tileX := x / oj.tileWidth
	tileY := y / oj.tileHeight

	widthInTiles := ceilDiv(destW*s+x%oj.tileWidth, oj.tileWidth)
	if maxTiles := oj.widthInTiles - tileX; widthInTiles > maxTiles {
		widthInTiles = maxTiles
	}

	heightInTiles := ceilDiv(destH*s+y%oj.tileHeight, oj.tileHeight)
	if maxTiles := oj.heightInTiles - tileY; heightInTiles > maxTiles {
		heightInTiles = maxTiles
	}

	if widthInTiles <= 0 || heightInTiles <= 0 {
		return nil
	}

	topleft := tileY*oj.widthInTiles + tileX

	fs, err := NewFancySource(oj.file, oj.mcuStarts, topleft, widthInTiles, oj.widthInTiles, heightInTiles)
	if err != nil {
		return fmt.Errorf("jpegops: configuring source for tile (%d,%d): %w", tileX, tileY, err)
	}

	dec := decoderPool.Get().(*decoder)
	defer func() {
		dec.reset()
		decoderPool.Put(dec)
	}()

	dec.toRGBA = true
	dec.scaleDenom = s
	dec.dimOverrideW = widthInTiles * oj.tileWidth
	dec.dimOverrideH = heightInTiles * oj.tileHeight

	img, err := dec.decode(fs.Bytes(), false)
	if err != nil {
		return fmt.Errorf("jpegops: decoding tile (%d,%d): %w", tileX, tileY, err)
	}

	rgba, ok := img.(*image.RGBA)
	if !ok {
		return ErrInternal
	}

	dx := (x % oj.tileWidth) / s
	dy := (y % oj.tileHeight) / s

	outW := rgba.Rect.Dx()
	outH := rgba.Rect.Dy()

	rowsToCopy := destH
	if n := outH - dy; n < rowsToCopy {
		rowsToCopy = n
	}

	pixelsPerRow := destW
	if n := outW - dx; n < pixelsPerRow {
		pixelsPerRow = n
	}

	for row := 0; row < rowsToCopy; row++ {
		srcOff := (dy+row)*rgba.Stride + dx*4
		dstOff := (destOffset + row*strideW) * 4

		for col := 0; col < pixelsPerRow; col++ {
			r := rgba.Pix[srcOff+col*4+0]
			g := rgba.Pix[srcOff+col*4+1]
			b := rgba.Pix[srcOff+col*4+2]

			word := uint32(0xFF000000) | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
			binary.NativeEndian.PutUint32(dest[dstOff+col*4:], word)
		}
	}

	return nil
}
