package imaging

// Binarize reduces grid to pure black and white. A pixel turns white when its
// blue channel exceeds red or green by more than threshold, black otherwise.
// The input grid is left untouched.
func Binarize(grid *PixelGrid, threshold int) *PixelGrid {
	out := &PixelGrid{Width: grid.Width, Height: grid.Height, Pix: make([]uint8, len(grid.Pix))}
	for i := 0; i+2 < len(grid.Pix); i += 3 {
		r, g, b := int(grid.Pix[i]), int(grid.Pix[i+1]), int(grid.Pix[i+2])
		var v uint8
		if b-r > threshold || b-g > threshold {
			v = 0xff
		}
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = v, v, v
	}
	return out
}
