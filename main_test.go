package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nettoclaudio/adb-qr-pair/internal/config"
	"github.com/nettoclaudio/adb-qr-pair/internal/qr"
	"github.com/nettoclaudio/adb-qr-pair/internal/sd"
)

// parseFlags binds cfg to a fresh flag set, so no flag stays set across tests.
func parseFlags(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()

	fs := flag.NewFlagSet(t.Name(), flag.ContinueOnError)
	registerFlags(fs)
	require.NoError(t, fs.Parse(args))

	t.Cleanup(func() { registerFlags(flag.NewFlagSet("defaults", flag.ContinueOnError)) })

	return fs
}

func TestLoadConfig_Defaults(t *testing.T) {
	c, err := loadConfigFrom(parseFlags(t))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), c)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adb-qr-pair.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: FROM_FILE\npassword: \"222222\"\n"), 0o644))

	c, err := loadConfigFrom(parseFlags(t, "-config", path))
	require.NoError(t, err)
	assert.Equal(t, "FROM_FILE", c.Name)
	assert.Equal(t, "222222", c.Password)

	c, err = loadConfigFrom(parseFlags(t, "-config", path, "-password", "333333"))
	require.NoError(t, err)
	assert.Equal(t, "FROM_FILE", c.Name)
	assert.Equal(t, "333333", c.Password)

	c, err = loadConfigFrom(parseFlags(t, "-config", path))
	require.NoError(t, err)
	assert.Equal(t, "222222", c.Password, "password flag must not leak from the previous parse")
}

type fakeDiscoverer struct {
	events    chan sd.Event
	script    []sd.Event
	endpoints map[string]sd.Endpoint
	started   chan struct{}

	mu     sync.Mutex
	closed bool
}

func newFakeDiscoverer(endpoints map[string]sd.Endpoint, script ...sd.Event) *fakeDiscoverer {
	return &fakeDiscoverer{
		events:    make(chan sd.Event),
		script:    script,
		endpoints: endpoints,
		started:   make(chan struct{}),
	}
}

func (d *fakeDiscoverer) Events() <-chan sd.Event { return d.events }

func (d *fakeDiscoverer) Discover(ctx context.Context) error {
	defer func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.events)
	}()

	close(d.started)

	for _, evt := range d.script {
		select {
		case d.events <- evt:
		case <-ctx.Done():
			return nil
		}
	}

	<-ctx.Done()
	return nil
}

func (d *fakeDiscoverer) Resolve(_ context.Context, category sd.Category, instance string) (sd.Endpoint, error) {
	ep, found := d.endpoints[category.String()+"/"+instance]
	if !found {
		return sd.Endpoint{}, sd.ErrNotFound
	}
	return ep, nil
}

func (d *fakeDiscoverer) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []string
}

func (e *fakeExecutor) Pair(_ context.Context, address, password string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, fmt.Sprintf("pair %s %s", address, password))
	return nil
}

func (e *fakeExecutor) Connect(_ context.Context, address string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "connect "+address)
	return nil
}

func newSession(d *fakeDiscoverer, e *fakeExecutor, out *bytes.Buffer) *session {
	return &session{
		Logger:     zap.NewNop(),
		Store:      config.NewStore(config.Default()),
		Presenter:  &qr.Presenter{Out: out},
		Discoverer: d,
		Executor:   e,
	}
}

func runSession(t *testing.T, ctx context.Context, s *session) int {
	t.Helper()

	code := make(chan int, 1)
	go func() { code <- s.Run(ctx) }()

	select {
	case c := <-code:
		return c
	case <-time.After(5 * time.Second):
		require.FailNow(t, "session did not finish")
	}

	return -1
}

func TestSession_Run_Cancelled(t *testing.T) {
	d := newFakeDiscoverer(nil)
	e := &fakeExecutor{}

	var out bytes.Buffer
	s := newSession(d, e, &out)

	ctx, cancel := context.WithCancel(context.TODO())
	defer cancel()

	go func() {
		<-d.started
		cancel()
	}()

	assert.Equal(t, 0, runSession(t, ctx, s))
	assert.Empty(t, e.calls)
	assert.True(t, d.isClosed())
	assert.Contains(t, out.String(), "Password: 000000")
}

func TestSession_Run_Done(t *testing.T) {
	d := newFakeDiscoverer(
		map[string]sd.Endpoint{
			"connect/adb-R5CT-1": {Instance: "adb-R5CT-1", Addresses: []string{"192.168.1.10"}, Port: 37000},
			"pairing/ADB_WIFI":   {Instance: "ADB_WIFI", Addresses: []string{"192.168.1.10"}, Port: 40000},
		},
		sd.Event{Category: sd.CategoryConnect, Kind: sd.Added, Instance: "adb-R5CT-1"},
		sd.Event{Category: sd.CategoryPairing, Kind: sd.Added, Instance: "ADB_WIFI"},
	)
	e := &fakeExecutor{}

	var out bytes.Buffer
	s := newSession(d, e, &out)

	var verified string
	s.Verify = func(address string) { verified = address }

	assert.Equal(t, 0, runSession(t, context.TODO(), s))
	assert.Equal(t, []string{"pair 192.168.1.10:40000 000000", "connect 192.168.1.10:37000"}, e.calls)
	assert.Equal(t, "192.168.1.10:37000", verified)
	assert.True(t, d.isClosed())
}
