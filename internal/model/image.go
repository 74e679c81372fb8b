package model

// ImageVariant identifies one processing-ready rendition of an uploaded image.
type ImageVariant string

// Image variant constants.
const (
	VariantPrimary      ImageVariant = "primary"
	VariantHighContrast ImageVariant = "high_contrast"
	VariantThumbnail    ImageVariant = "thumbnail"
)

// NormalizedImage is a recognizer-ready image variant produced for a single run.
type NormalizedImage struct {
	ContentHash string
	MIMEType    string
	Variant     ImageVariant
	Data        []byte
	Width       int
	Height      int
}

// FindVariant returns the first image of the given variant.
func FindVariant(images []NormalizedImage, variant ImageVariant) (NormalizedImage, bool) {
	for _, img := range images {
		if img.Variant == variant {
			return img, true
		}
	}
	return NormalizedImage{}, false
}
