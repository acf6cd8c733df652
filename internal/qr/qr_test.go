package qr_test

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/nettoclaudio/adb-qr-pair/internal/qr"
)

func TestCredential_Payload(t *testing.T) {
	c := Credential{Name: DefaultName, Password: DefaultPassword}
	assert.Equal(t, "WIFI:T:ADB;S:ADB_WIFI;P:000000;;", c.Payload())
}

func TestCredential_Payload_Escaping(t *testing.T) {
	c := Credential{Name: `lab;bench:1`, Password: `a,b"c\d`}
	assert.Equal(t, `WIFI:T:ADB;S:lab\;bench\:1;P:a\,b\"c\\d;;`, c.Payload())
}

func TestCredential_Validate(t *testing.T) {
	assert.NoError(t, Credential{Name: "n", Password: "p"}.Validate())
	assert.ErrorIs(t, Credential{Password: "p"}.Validate(), ErrEmptyName)
	assert.ErrorIs(t, Credential{Name: "n"}.Validate(), ErrEmptyPassword)
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, Credential{Name: DefaultName, Password: DefaultPassword}))

	out := buf.String()
	assert.NotEmpty(t, out)
	assert.Contains(t, out, "\n")
	assert.Regexp(t, "[█▀▄]", out)
}

func TestRender_OneModuleMargin(t *testing.T) {
	c := Credential{Name: DefaultName, Password: DefaultPassword}

	code, err := qrcode.New(c.Payload(), qrcode.Low)
	require.NoError(t, err)
	code.DisableBorder = true
	modules := len(code.Bitmap())

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, c))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, (modules+2+1)/2)

	for _, line := range lines {
		assert.Equal(t, modules+2, utf8.RuneCountInString(line))
		assert.True(t, strings.HasPrefix(line, "█") || strings.HasPrefix(line, "▀"), line)
	}

	// top margin over the finder pattern of the first row
	assert.True(t, strings.HasPrefix(lines[0], "█▀▀▀▀▀▀▀█"), lines[0])
}

func TestRender_InvalidCredential(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Render(&buf, Credential{}), ErrEmptyName)
	assert.Zero(t, buf.Len())
}

func TestPresenter_Present(t *testing.T) {
	var buf bytes.Buffer
	p := &Presenter{Out: &buf}

	require.NoError(t, p.Present(Credential{Name: "ADB_WIFI", Password: "123456"}))

	out := buf.String()
	assert.Contains(t, out, "Network name: ADB_WIFI\n")
	assert.Contains(t, out, "Password: 123456\n")
	assert.Contains(t, out, "Waiting for device...")
}
