// Package pairing decides when a discovered device gets paired and connected.
package pairing

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nettoclaudio/adb-qr-pair/internal/qr"
	"github.com/nettoclaudio/adb-qr-pair/internal/sd"
)

type State int

const (
	StateWaitingForConnectPort State = iota
	StateHaveConnectPort
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWaitingForConnectPort:
		return "waiting_for_connect_port"
	case StateHaveConnectPort:
		return "have_connect_port"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

type Executor interface {
	Pair(ctx context.Context, address, password string) error
	Connect(ctx context.Context, address string) error
}

type CredentialSource interface {
	Credential() qr.Credential
}

// Outcome describes the pair and connect invocation made when the correlator fired.
type Outcome struct {
	PairAddress    string
	ConnectAddress string
	PairErr        error
	ConnectErr     error
}

func (o Outcome) Err() error {
	return multierr.Combine(o.PairErr, o.ConnectErr)
}

// Correlator waits for a connect service followed by a pairing service and then runs the
// pair and connect commands exactly once. Only the first connect port ever seen is used.
type Correlator struct {
	Resolver    sd.Resolver
	Executor    Executor
	Credentials CredentialSource
	Logger      *zap.Logger

	// OnStateChange is called with the new state after every transition.
	OnStateChange func(State)

	mu      sync.Mutex
	state   State
	ports   []int
	outcome Outcome
}

// Run consumes events until the pair and connect commands ran, ctx is done or the channel is
// closed. It returns the combined failure of the commands, if any.
func (c *Correlator) Run(ctx context.Context, events <-chan sd.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	c.Logger.Debug("Starting correlator")
	defer c.Logger.Debug("Finishing correlator")

	for {
		select {
		case evt, isOpen := <-events:
			if !isOpen {
				c.Logger.Debug("Channel of discovery events is closed")
				return nil
			}

			done, err := c.HandleEvent(ctx, evt)
			if done {
				return err
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// HandleEvent applies a single discovery event. done is true when this event fired the pair
// and connect commands; err then carries their failures.
func (c *Correlator) HandleEvent(ctx context.Context, evt sd.Event) (done bool, err error) {
	logger := c.logger().With(zap.Stringer("category", evt.Category), zap.Stringer("kind", evt.Kind), zap.String("instance", evt.Instance))

	if evt.Kind != sd.Added {
		logger.Debug("Ignoring event")
		return false, nil
	}

	ep, err := c.Resolver.Resolve(ctx, evt.Category, evt.Instance)
	if err == nil && (len(ep.Addresses) == 0 || ep.Port <= 0) {
		err = sd.ErrUnresolved
	}
	if err != nil {
		logger.Debug("Failed to resolve service", zap.Error(err))
		return false, nil
	}

	switch evt.Category {
	case sd.CategoryConnect:
		c.addPort(logger, ep.Port)
		return false, nil

	case sd.CategoryPairing:
		connectPort, fire := c.claim(logger)
		if !fire {
			return false, nil
		}

		return true, c.fire(ctx, logger, ep, connectPort)
	}

	return false, nil
}

func (c *Correlator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ports returns the connect ports seen so far, in arrival order.
func (c *Correlator) Ports() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.ports)
}

// Outcome is only meaningful once State returns StateDone.
func (c *Correlator) Outcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

func (c *Correlator) addPort(logger *zap.Logger, port int) {
	c.mu.Lock()

	if c.state == StateDone {
		c.mu.Unlock()
		logger.Debug("Pairing already triggered, ignoring connect service")
		return
	}

	c.ports = append(c.ports, port)

	changed := c.state == StateWaitingForConnectPort
	c.state = StateHaveConnectPort
	c.mu.Unlock()

	logger.Info("Connect service discovered", zap.Int("port", port))

	if changed {
		c.notify(StateHaveConnectPort)
	}
}

// claim moves to StateDone and returns the first connect port when firing is allowed.
func (c *Correlator) claim(logger *zap.Logger) (int, bool) {
	c.mu.Lock()

	switch c.state {
	case StateDone:
		c.mu.Unlock()
		logger.Debug("Pairing already triggered, ignoring pairing service")
		return 0, false

	case StateWaitingForConnectPort:
		c.mu.Unlock()
		logger.Warn("Pairing service discovered before any connect service, ignoring it")
		return 0, false
	}

	port := c.ports[0]
	c.state = StateDone
	c.mu.Unlock()

	c.notify(StateDone)
	return port, true
}

func (c *Correlator) fire(ctx context.Context, logger *zap.Logger, pairing sd.Endpoint, connectPort int) error {
	host := pairing.Addresses[0]

	outcome := Outcome{
		PairAddress:    pairing.Address(),
		ConnectAddress: net.JoinHostPort(host, strconv.Itoa(connectPort)),
	}

	logger = logger.With(zap.String("pair_address", outcome.PairAddress), zap.String("connect_address", outcome.ConnectAddress))

	logger.Info("Pairing...")
	if err := c.Executor.Pair(ctx, outcome.PairAddress, c.Credentials.Credential().Password); err != nil {
		logger.Error("Failed to pair", zap.Error(err))
		outcome.PairErr = fmt.Errorf("failed to pair with %s: %w", outcome.PairAddress, err)
	}

	logger.Info("Connecting...")
	if err := c.Executor.Connect(ctx, outcome.ConnectAddress); err != nil {
		logger.Error("Failed to connect", zap.Error(err))
		outcome.ConnectErr = fmt.Errorf("failed to connect to %s: %w", outcome.ConnectAddress, err)
	}

	c.mu.Lock()
	c.outcome = outcome
	c.mu.Unlock()

	return outcome.Err()
}

func (c *Correlator) notify(s State) {
	if c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}

func (c *Correlator) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
