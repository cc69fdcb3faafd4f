package media

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// NewAssetID returns a random hex identifier used to group the objects of one
// upload under a common key prefix.
func NewAssetID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate asset id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// VideoKey returns the object key for the source file of an upload.
func VideoKey(assetID, filename string) string {
	return path.Join("videos", assetID, "source"+safeExtension(filename))
}

// ThumbnailKey returns the object key for the thumbnail of an upload.
func ThumbnailKey(assetID, filename string) string {
	return path.Join("videos", assetID, "thumb"+safeExtension(filename))
}

func safeExtension(filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(filename)))
	if ext == "" || ext == "." || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
