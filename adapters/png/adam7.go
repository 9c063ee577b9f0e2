package png

import "github.com/Skryldev/streamcodec/core"

// adam7 holds the pixel origin and spacing of the seven interlace passes.
var adam7 = [7]struct {
	xOff, yOff, xStep, yStep uint32
}{
	{0, 0, 8, 8},
	{4, 0, 8, 8},
	{0, 4, 4, 8},
	{2, 0, 4, 4},
	{0, 2, 2, 4},
	{1, 0, 2, 2},
	{0, 1, 1, 2},
}

// passGeom is one non-empty pass of a frame.  Pass 0 is the single pass of a
// non-interlaced frame.
type passGeom struct {
	index         int
	width, height uint32
}

func passPlacement(pass int) (xOff, yOff, xStep, yStep uint32) {
	if pass == 0 {
		return 0, 0, 1, 1
	}
	p := adam7[pass-1]
	return p.xOff, p.yOff, p.xStep, p.yStep
}

// framePasses lists the passes that carry at least one pixel.
func framePasses(width, height uint32, interlaced bool) []passGeom {
	if !interlaced {
		return []passGeom{{index: 0, width: width, height: height}}
	}
	passes := make([]passGeom, 0, len(adam7))
	for i, p := range adam7 {
		if width <= p.xOff || height <= p.yOff {
			continue
		}
		passes = append(passes, passGeom{
			index:  i + 1,
			width:  (width - p.xOff + p.xStep - 1) / p.xStep,
			height: (height - p.yOff + p.yStep - 1) / p.yStep,
		})
	}
	return passes
}

// lineOf maps a row of a pass onto its row in the final image.
func lineOf(pass int, passRow uint32) uint32 {
	_, yOff, _, yStep := passPlacement(pass)
	return yOff + passRow*yStep
}

// expandRow scatters the pixels of src, a sparse row described by info, into
// their final positions in dst.  Bounds must be checked by the caller.
func expandRow(dst []byte, dstStride int, src []byte, info core.InterlaceInfo, bytesPerPixel int) {
	xOff, _, xStep, _ := passPlacement(info.Pass)
	row := dst[int(info.Line)*dstStride:]
	for i := 0; i < int(info.Width); i++ {
		x := int(xOff) + i*int(xStep)
		copy(row[x*bytesPerPixel:(x+1)*bytesPerPixel], src[i*bytesPerPixel:(i+1)*bytesPerPixel])
	}
}

// expandedExtent returns the number of bytes of the destination row that
// expandRow touches.
func expandedExtent(info core.InterlaceInfo, bytesPerPixel int) int {
	if info.Width == 0 {
		return 0
	}
	xOff, _, xStep, _ := passPlacement(info.Pass)
	last := int(xOff) + (int(info.Width)-1)*int(xStep)
	return (last + 1) * bytesPerPixel
}
