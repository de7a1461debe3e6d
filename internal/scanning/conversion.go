package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	mimePDF  = "application/pdf"
	mimePNG  = "image/png"
	mimeJPEG = "image/jpeg"
	mimeHEIC = "image/heic"
)

// MIMEType infers the content type from the file extension. Anything that is not
// a PDF, PNG or HEIC is sent as JPEG.
func MIMEType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return mimePDF
	case ".png":
		return mimePNG
	case ".heic", ".heif":
		return mimeHEIC
	default:
		return mimeJPEG
	}
}

// IsPDF reports whether the file is a PDF by extension
func IsPDF(filename string) bool {
	return MIMEType(filename) == mimePDF
}

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// The standard image package cannot read HEIC/HEIF (iPhone camera default)
	if isHEICFormat(imageData) || mimeType == mimeHEIC {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// prepareInline returns the bytes and MIME type for a provider that accepts PDFs and
// common images inline. Only HEIC is converted.
func prepareInline(data []byte, filename string) ([]byte, string, error) {
	mimeType := MIMEType(filename)
	if mimeType == mimeHEIC || isHEICFormat(data) {
		pngData, err := imageToPNG(data, mimeHEIC)
		if err != nil {
			return nil, "", fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, mimePNG, nil
	}
	return data, mimeType, nil
}

// prepareImage returns PNG bytes for a provider that only reads raster images.
// PDFs are rendered from their first page.
func prepareImage(data []byte, filename string) ([]byte, error) {
	mimeType := MIMEType(filename)
	switch {
	case mimeType == mimePDF:
		pngData, err := pdfToImage(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, nil
	case mimeType == mimePNG && !isHEICFormat(data):
		return data, nil
	default:
		pngData, err := imageToPNG(data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, nil
	}
}
