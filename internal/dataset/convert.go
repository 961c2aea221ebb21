package dataset

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
	".webp": true, ".tif": true, ".tiff": true,
}

// convertibleTargetExts are output formats re-encoded to JPEG on ingest when
// conversion is requested (lossless or alpha-capable formats).
var convertibleTargetExts = map[string]bool{
	".png": true, ".webp": true, ".bmp": true,
}

const jpegQuality = 90

// SaveControl copies one source asset into a control folder under the
// zero-padded index, re-encoding images to JPEG when forceJPG is set. Sources
// the decoder cannot handle are copied through unconverted so the pair is
// never lost to a format gap.
func (m *Manager) SaveControl(folder string, index int, source string, forceJPG bool) (string, error) {
	alias := indexAlias(index)
	ext := strings.ToLower(filepath.Ext(source))

	if forceJPG && imageExtensions[ext] {
		data, err := os.ReadFile(source)
		if err != nil {
			return "", fmt.Errorf("read control asset: %w", err)
		}
		if encoded, err := reencodeJPEG(data); err == nil {
			dest := filepath.Join(folder, alias+".jpg")
			if err := os.WriteFile(dest, encoded, 0o644); err != nil {
				return "", fmt.Errorf("write control asset: %w", err)
			}
			return dest, nil
		}
		log.Printf("control %s not decodable, copying unconverted", filepath.Base(source))
	}

	dest := filepath.Join(folder, alias+ext)
	if err := copyFile(source, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// SaveTargetAsset writes one generated output into the target folder under
// the zero-padded index, converting lossless/alpha formats to JPEG when
// requested and decodable.
func (m *Manager) SaveTargetAsset(folder string, index int, filenameHint string, data []byte, convertJPG bool) (string, error) {
	alias := indexAlias(index)
	ext := strings.ToLower(filepath.Ext(filenameHint))

	if convertJPG && convertibleTargetExts[ext] {
		if encoded, err := reencodeJPEG(data); err == nil {
			dest := filepath.Join(folder, alias+".jpg")
			if err := os.WriteFile(dest, encoded, 0o644); err != nil {
				return "", fmt.Errorf("write target asset: %w", err)
			}
			return dest, nil
		}
		log.Printf("target %s not decodable, keeping original format", filenameHint)
	}

	if ext == "" {
		ext = ".png"
	}
	dest := filepath.Join(folder, alias+ext)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write target asset: %w", err)
	}
	return dest, nil
}

func reencodeJPEG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dest, err)
	}
	return out.Close()
}
