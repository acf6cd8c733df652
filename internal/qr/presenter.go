package qr

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Presenter prints the pairing instructions and the QR code to a console.
type Presenter struct {
	Out io.Writer

	mu sync.Mutex
}

func (p *Presenter) Present(c Credential) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.Out
	if out == nil {
		out = os.Stdout
	}

	fmt.Fprintln(out, "Wireless ADB pairing")
	fmt.Fprintln(out, "On the Android device open Developer options > Wireless debugging > Pair device with QR code and scan:")
	fmt.Fprintln(out)

	if err := Render(out, c); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Network name: %s\n", c.Name)
	fmt.Fprintf(out, "Password: %s\n", c.Password)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Waiting for device...")

	return nil
}
