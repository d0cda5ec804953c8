package ollama

import "regexp"

var dataURLPrefix = regexp.MustCompile(`^data:image/[a-z]+;base64,`)

// StripDataURL returns the base64 payload of a data URL. Other strings are
// returned unchanged.
func StripDataURL(s string) string {
	return dataURLPrefix.ReplaceAllString(s, "")
}

// StripDataURLs applies StripDataURL to every image, returning nil for none.
func StripDataURLs(images []string) []string {
	if len(images) == 0 {
		return nil
	}
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = StripDataURL(img)
	}
	return out
}
