package switcher

// Compare orders images by version only. It returns -1, 0 or +1. Two images
// with the same version compare equal even if they are different images.
func Compare(a, b *Image) int {
	va, vb := a.Version(), b.Version()
	switch {
	case va > vb:
		return 1
	case va < vb:
		return -1
	default:
		return 0
	}
}

// Select verifies both images and returns the one to boot, or nil if neither
// is bootable. When both are bootable the strictly newer one wins; on equal
// versions b is returned.
//
// Verification may record checksum verdicts in either footer. Select should
// be called once per boot, before Boot.
func Select(a, b *Image) *Image {
	bootA, bootB := a.VerifyBootable(), b.VerifyBootable()

	switch {
	case bootA && bootB:
		if Compare(a, b) > 0 {
			return a
		}
		return b
	case bootA:
		return a
	case bootB:
		return b
	default:
		return nil
	}
}

// SelectFrom generalises Select to any number of images. Each image is
// verified exactly once. Ties go to the later image, as with Select.
func SelectFrom(images ...*Image) *Image {
	var best *Image
	for _, img := range images {
		if !img.VerifyBootable() {
			continue
		}
		if best == nil || Compare(best, img) <= 0 {
			best = img
		}
	}
	return best
}
