package png

// Filter type, as defined by the PNG format.
const (
	ftNone    = 0
	ftSub     = 1
	ftUp      = 2
	ftAverage = 3
	ftPaeth   = 4
	nFilter   = 5
)

// unfilter reverses the per-row predictor in place.  cdat and pdat exclude
// the filter-type byte; pdat is all zeroes for the first row of a pass.
func unfilter(ft byte, cdat, pdat []byte, bytesPerPixel int) bool {
	switch ft {
	case ftNone:
		// No-op.
	case ftSub:
		for i := bytesPerPixel; i < len(cdat); i++ {
			cdat[i] += cdat[i-bytesPerPixel]
		}
	case ftUp:
		for i, p := range pdat {
			cdat[i] += p
		}
	case ftAverage:
		// The first column has no column to the left of it.
		for i := 0; i < bytesPerPixel && i < len(cdat); i++ {
			cdat[i] += pdat[i] / 2
		}
		for i := bytesPerPixel; i < len(cdat); i++ {
			cdat[i] += uint8((int(cdat[i-bytesPerPixel]) + int(pdat[i])) / 2)
		}
	case ftPaeth:
		filterPaeth(cdat, pdat, bytesPerPixel)
	default:
		return false
	}
	return true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// paeth implements the Paeth filter function, as defined by the PNG format.
func paeth(a, b, c uint8) uint8 {
	pc := int(c)
	pa := int(b) - pc
	pb := int(a) - pc
	pc = abs(pa + pb)
	pa = abs(pa)
	pb = abs(pb)
	if pa <= pb && pa <= pc {
		return a
	} else if pb <= pc {
		return b
	}
	return c
}

func filterPaeth(cdat, pdat []byte, bytesPerPixel int) {
	for i := range cdat {
		var a, c uint8
		if i >= bytesPerPixel {
			a = cdat[i-bytesPerPixel]
			c = pdat[i-bytesPerPixel]
		}
		cdat[i] += paeth(a, pdat[i], c)
	}
}
