// Package share builds the public link of a conversation and renders it as a
// QR code for terminals and images.
package share

import (
	"errors"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrNoPublicID is returned for an empty public id.
var ErrNoPublicID = errors.New("share: public id is required")

// Link joins base and the conversation's public id.
func Link(base, publicID string) (string, error) {
	publicID = strings.TrimSpace(publicID)
	if publicID == "" {
		return "", ErrNoPublicID
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + url.PathEscape(publicID), nil
}

// PublicID extracts the public id from a link built by Link. Input that is not
// under base is treated as a bare id.
func PublicID(base, link string) string {
	link = strings.TrimSpace(link)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	rest, ok := strings.CutPrefix(link, base)
	if !ok {
		return link
	}
	rest, _, _ = strings.Cut(rest, "?")
	if id, err := url.PathUnescape(strings.Trim(rest, "/")); err == nil {
		return id
	}
	return rest
}

// PNG encodes content as a QR code image of size pixels.
func PNG(content string, size int) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, size)
}

// RenderQR renders content as a QR code with Unicode half blocks, two bitmap
// rows per line, each line indented by indent.
func RenderQR(content, indent string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", err
	}
	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString(indent)
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := y+1 < rows && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String(), nil
}
