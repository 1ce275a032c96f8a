// Package shell implements the interactive bridge commands: adding and
// removing bridged devices, scanning for BLE peripherals and listing the
// registry.
//
// Every command runs on the work queue. Results are printed as "Done" or
// an "Error: ..." line.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/backkem/matterbridge/pkg/ble"
	"github.com/backkem/matterbridge/pkg/bridge"
	"github.com/backkem/matterbridge/pkg/clusters/bridgedbasic"
	"github.com/backkem/matterbridge/pkg/datamodel"
	"github.com/backkem/matterbridge/pkg/workqueue"
	"github.com/fatih/color"
	"github.com/pion/logging"
	"github.com/urfave/cli"
)

// Scanner is the BLE side of the shell. *ble.Manager implements it.
type Scanner interface {
	Scan() error
	ScannedDevices() []ble.ScannedDevice
}

// Config holds configuration for a Shell.
type Config struct {
	// Queue runs the commands. Required.
	Queue *workqueue.Queue

	// Manager is listed by the list command. Required.
	Manager *bridge.Manager

	// Creator adds and removes devices. Required.
	Creator *bridge.Creator

	// Scanner enables BLE mode: add takes a scan index and scan is
	// available (optional).
	Scanner Scanner

	// Out receives command output. Default: os.Stdout.
	Out io.Writer

	// Color enables colored output.
	Color bool

	// LoggerFactory for shell logging (optional).
	LoggerFactory logging.LoggerFactory
}

// Shell parses and runs bridge commands.
type Shell struct {
	config Config
	app    *cli.App
	out    *syncWriter

	green *color.Color
	red   *color.Color

	mu  sync.Mutex
	ctx context.Context

	log logging.LeveledLogger
}

// syncWriter serializes output from the caller and from the work queue.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// New creates a shell.
func New(config Config) (*Shell, error) {
	if config.Queue == nil || config.Manager == nil || config.Creator == nil {
		return nil, bridge.ErrInvalidArgument
	}
	if config.Out == nil {
		config.Out = os.Stdout
	}

	s := &Shell{
		config: config,
		out:    &syncWriter{w: config.Out},
		green:  color.New(color.FgHiGreen),
		red:    color.New(color.FgHiRed),
		ctx:    context.Background(),
	}
	if config.Color {
		s.green.EnableColor()
		s.red.EnableColor()
	} else {
		s.green.DisableColor()
		s.red.DisableColor()
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("shell")
	}
	s.app = s.newApp()
	return s, nil
}

func (s *Shell) bleMode() bool {
	return s.config.Scanner != nil
}

func (s *Shell) newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "matter_bridge"
	app.Usage = "Matter bridge commands"
	app.HideVersion = true
	app.Writer = s.out
	app.ErrWriter = s.out
	app.CommandNotFound = func(c *cli.Context, command string) {
		s.fail("Error: unknown command %q", command)
	}

	add := cli.Command{
		Name:      "add",
		Usage:     "Adds bridged device",
		ArgsUsage: "<bridged_device_type> [node_label]",
		Description: "bridged_device_type is the device type, e.g. 256 - OnOff Light, " +
			"770 - TemperatureSensor, 775 - HumiditySensor, or its name",
		Action: s.addCommand,
	}
	if s.bleMode() {
		add.ArgsUsage = "<bridged_device_type> <ble_device_index> [node_label]"
	}

	app.Commands = []cli.Command{
		add,
		{
			Name:      "remove",
			Usage:     "Removes bridged device",
			ArgsUsage: "<bridged_device_endpoint_id>",
			Action:    s.removeCommand,
		},
		{
			Name:   "list",
			Usage:  "Lists bridged devices and scan results",
			Action: s.listCommand,
		},
	}
	if s.bleMode() {
		app.Commands = append(app.Commands, cli.Command{
			Name:   "scan",
			Usage:  "Scan for Bluetooth LE devices to bridge",
			Action: s.scanCommand,
		})
	}
	return app
}

// Execute runs one command given as separate arguments.
func (s *Shell) Execute(ctx context.Context, args []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	return s.app.Run(append([]string{s.app.Name}, args...))
}

// Run reads commands line by line until in is exhausted, ctx ends or an
// "exit" line is read.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			return nil
		}
		if err := s.Execute(ctx, args); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.fail("Error: %v", err)
		}
	}
	return scanner.Err()
}

// do runs fn on the work queue and waits for it.
func (s *Shell) do(fn func()) error {
	return s.config.Queue.Do(s.ctx, func() error {
		fn()
		return nil
	})
}

func (s *Shell) addCommand(c *cli.Context) error {
	args := c.Args()
	need := 1
	if s.bleMode() {
		need = 2
	}
	if len(args) < need {
		s.fail("Usage: add %s", c.Command.ArgsUsage)
		return nil
	}

	typ, err := bridge.ParseDeviceType(args[0])
	if err != nil {
		s.printResult(err)
		return nil
	}

	if !s.bleMode() {
		label := strings.Join(args[1:], " ")
		return s.do(func() {
			_, err := s.config.Creator.CreateDevice(typ, label)
			s.printResult(err)
		})
	}

	index, err := strconv.Atoi(args[1])
	if err != nil || index < 0 {
		s.fail("Error: invalid BLE device index %q", args[1])
		return nil
	}
	label := strings.Join(args[2:], " ")
	return s.do(func() {
		if index >= len(s.config.Scanner.ScannedDevices()) {
			s.fail("Error: invalid BLE device index %q", args[1])
			return
		}
		// The device is added once the connection is established.
		err := s.config.Creator.CreateBLEDevice(typ, label, index, func(ep datamodel.EndpointID, err error) {
			s.printResult(err)
		})
		if err != nil {
			s.printResult(err)
		}
	})
}

func (s *Shell) removeCommand(c *cli.Context) error {
	if len(c.Args()) < 1 {
		s.fail("Usage: remove %s", c.Command.ArgsUsage)
		return nil
	}
	ep, err := strconv.ParseUint(c.Args().First(), 0, 16)
	if err != nil {
		s.printResult(bridge.ErrNotFound)
		return nil
	}
	return s.do(func() {
		s.printResult(s.config.Creator.RemoveDevice(datamodel.EndpointID(ep)))
	})
}

func (s *Shell) scanCommand(c *cli.Context) error {
	s.info("Scanning...")
	return s.do(func() {
		if err := s.config.Scanner.Scan(); err != nil {
			s.fail("Error: %v", err)
		}
	})
}

func (s *Shell) listCommand(c *cli.Context) error {
	return s.do(func() {
		devices := s.config.Manager.Devices()
		if len(devices) == 0 {
			fmt.Fprintln(s.out, "No bridged devices")
		}
		for _, d := range devices {
			fmt.Fprintf(s.out, "[%d] endpoint %d %s %q reachable=%v\n",
				d.Index, d.Device.EndpointID(), d.Device.Type(), d.Device.NodeLabel(), d.Device.Reachable())
		}
		if s.bleMode() {
			s.printScanResults(s.config.Scanner.ScannedDevices())
		}
	})
}

// ScanCompleted prints the scan result list. It matches
// ble.Config.OnScanComplete.
func (s *Shell) ScanCompleted(devices []ble.ScannedDevice) {
	s.printScanResults(devices)
}

func (s *Shell) printScanResults(devices []ble.ScannedDevice) {
	fmt.Fprintln(s.out, "Scan result:")
	if len(devices) == 0 {
		fmt.Fprintln(s.out, "(none)")
	}
	for i, d := range devices {
		fmt.Fprintf(s.out, "[%d] %s %q rssi %d\n", i, d.Address, d.Name, d.RSSI)
	}
}

// printResult prints the outcome of an add or remove.
func (s *Shell) printResult(err error) {
	switch {
	case err == nil:
		s.info("Done")
	case errors.Is(err, bridge.ErrInvalidStringLength):
		s.fail("Error: too long node label (max %d)", bridgedbasic.MaxNodeLabelLength)
	case errors.Is(err, bridge.ErrNoMemory):
		s.fail("Error: no memory")
	case errors.Is(err, bridge.ErrInvalidArgument):
		s.fail("Error: invalid device type")
	case errors.Is(err, bridge.ErrNotFound):
		s.fail("Error: device not found")
	default:
		if s.log != nil {
			s.log.Debugf("Command failed: %v", err)
		}
		s.fail("Error: internal")
	}
}

func (s *Shell) info(format string, args ...interface{}) {
	fmt.Fprintln(s.out, s.green.Sprintf(format, args...))
}

func (s *Shell) fail(format string, args ...interface{}) {
	fmt.Fprintln(s.out, s.red.Sprintf(format, args...))
}

var _ Scanner = (*ble.Manager)(nil)
