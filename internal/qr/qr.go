package qr

import (
	"errors"
	"fmt"
	"io"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultName     = "ADB_WIFI"
	DefaultPassword = "000000"
)

var (
	ErrEmptyName     = errors.New("credential name is empty")
	ErrEmptyPassword = errors.New("credential password is empty")
)

// Credential is the network descriptor a device scans to start wireless debugging pairing.
// Name is the instance name the device uses for its pairing advertisement, Password is the
// pairing code.
type Credential struct {
	Name     string
	Password string
}

func (c Credential) Validate() error {
	if c.Name == "" {
		return ErrEmptyName
	}
	if c.Password == "" {
		return ErrEmptyPassword
	}
	return nil
}

// Payload returns the text encoded in the QR code: WIFI:T:ADB;S:<name>;P:<password>;;
func (c Credential) Payload() string {
	return fmt.Sprintf("WIFI:T:ADB;S:%s;P:%s;;", escape(c.Name), escape(c.Password))
}

var escaper = strings.NewReplacer(`\`, `\\`, `;`, `\;`, `,`, `\,`, `:`, `\:`, `"`, `\"`)

func escape(s string) string {
	return escaper.Replace(s)
}

// quietZone is the light margin around the code, in modules.
const quietZone = 1

// Render writes the credential as a QR code made of half-block characters. Light modules
// are drawn as blocks, so the code reads dark on light on a dark terminal.
func Render(w io.Writer, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}

	code, err := qrcode.New(c.Payload(), qrcode.Low)
	if err != nil {
		return fmt.Errorf("failed to encode QR code: %w", err)
	}

	code.DisableBorder = true

	_, err = io.WriteString(w, halfBlocks(code.Bitmap(), quietZone))
	return err
}

// halfBlocks packs two module rows per text line. Rows past the bottom margin are left blank.
func halfBlocks(bitmap [][]bool, margin int) string {
	size := len(bitmap) + 2*margin

	light := func(row, col int) bool {
		if row >= size {
			return false
		}

		row, col = row-margin, col-margin
		if row < 0 || col < 0 || row >= len(bitmap) || col >= len(bitmap) {
			return true
		}

		return !bitmap[row][col]
	}

	var b strings.Builder
	for row := 0; row < size; row += 2 {
		for col := 0; col < size; col++ {
			switch top, bottom := light(row, col), light(row+1, col); {
			case top && bottom:
				b.WriteString("█")
			case top:
				b.WriteString("▀")
			case bottom:
				b.WriteString("▄")
			default:
				b.WriteString(" ")
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}
