// Program oatmeal is a command-line utility for interacting with devices
// speaking the Oatmeal serial protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"

	"github.com/oatmeal-protocol/oatmeal"
	"github.com/oatmeal-protocol/oatmeal/arg"
	"github.com/oatmeal-protocol/oatmeal/serial"
	"github.com/oatmeal-protocol/oatmeal/transport"
)

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Utilities for interacting with Oatmeal serial devices.",
		Commands: []*command.C{
			{
				Name:  "pack",
				Usage: "<command> <flag> <token> <arg>...",
				Help: `Pack typed arguments into an Oatmeal frame.

The command is 3 bytes, the flag 1 byte, and the token 2 bytes. Each
further argument adds one value to the payload:

  i:N       a signed integer
  u:N       an unsigned integer
  f:N[:S]   a real number, optionally with S significant figures
  b:V       a boolean (true or false)
  s:TEXT    a quoted string
  x:HEX     a raw bytes value given as hex digits
  k:NAME    a dict key
  n         the null value
  [  ]      open / close a list
  {  }      open / close a dict

The finished frame is written to stdout followed by a newline.
`,
				Run: runPack,
			},
			{
				Name: "unpack",
				Help: `Decode Oatmeal frames read from stdin.

Frames are located and validated exactly as a receiving port would,
so corrupted input is dropped and counted rather than decoded. Each
message prints as its opcode, token and decoded argument values.
`,
				Run: runUnpack,
			},
			{
				Name:     "listen",
				Usage:    "[--device PATH | --port NAME --config FILE]",
				Help:     "Open a serial device and log the Oatmeal traffic on it.",
				SetFlags: command.Flags(flax.MustBind, &listenFlags),
				Run:      runListen,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runPack(env *command.Env) error {
	if len(env.Args) < 3 {
		return env.Usagef("missing command, flag or token")
	}
	cmd, flag, token := env.Args[0], env.Args[1], env.Args[2]
	if len(cmd) != oatmeal.CmdLen || len(flag) != 1 || len(token) != oatmeal.TokenLen {
		return fmt.Errorf("header must be %d+1+%d bytes", oatmeal.CmdLen, oatmeal.TokenLen)
	}

	var msg oatmeal.Msg
	msg.Start(cmd, flag[0], token)
	for _, a := range env.Args[3:] {
		n, err := packArg(&msg, a)
		if err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("argument %q does not fit in the frame", a)
		}
	}
	msg.Finish()
	if !msg.Validate() {
		return errors.New("packed frame failed validation")
	}
	os.Stdout.Write(msg.Frame())
	fmt.Println()
	return nil
}

func packArg(msg *oatmeal.Msg, a string) (int, error) {
	switch a {
	case "[":
		return msg.AppendListStart(), nil
	case "]":
		return msg.AppendListEnd(), nil
	case "{":
		return msg.AppendDictStart(), nil
	case "}":
		return msg.AppendDictEnd(), nil
	case "n":
		return msg.AppendNone(), nil
	}
	kind, val, ok := strings.Cut(a, ":")
	if !ok {
		return 0, fmt.Errorf("invalid argument %q", a)
	}
	switch kind {
	case "i":
		v, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer: %w", err)
		}
		return msg.AppendInt(v), nil
	case "u":
		v, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer: %w", err)
		}
		return msg.AppendUint(v), nil
	case "f":
		sigFigs := arg.DefaultSigFigs
		if num, sig, ok := strings.Cut(val, ":"); ok {
			s, err := strconv.Atoi(sig)
			if err != nil {
				return 0, fmt.Errorf("invalid sig figs: %w", err)
			}
			sigFigs, val = s, num
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid real: %w", err)
		}
		return msg.AppendFloatSig(v, sigFigs), nil
	case "b":
		v, err := strconv.ParseBool(val)
		if err != nil {
			return 0, fmt.Errorf("invalid bool: %w", err)
		}
		return msg.AppendBool(v), nil
	case "s":
		return msg.AppendString(val), nil
	case "x":
		b, err := decodeHex(val)
		if err != nil {
			return 0, err
		}
		return msg.AppendBytes(b), nil
	case "k":
		return msg.AppendDictKey(val), nil
	}
	return 0, fmt.Errorf("invalid argument kind %q", kind)
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.New("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex byte: %w", err)
		}
		out[i] = byte(v)
	}
	return out, nil
}

func runUnpack(env *command.Env) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return err
	}

	// Run the input through a real port so framing and validation behave
	// exactly as they would on the wire.
	a, b := transport.Pipe()
	if _, err := b.Write(data); err != nil {
		return err
	}
	port := oatmeal.NewPort(a, "unpack")
	for {
		msg, ok := port.Recv()
		if !ok {
			// Recv reads at most one buffer's worth per call; keep polling
			// until the pipe is drained.
			if a.Available() == 0 {
				break
			}
			continue
		}
		vals, perr := decodeArgs(msg.Args())
		if perr != nil {
			port.Stats.BadMessage++
			fmt.Printf("%s %s <%v>\n", msg.Opcode(), msg.Token(), perr)
			continue
		}
		fmt.Printf("%s %s %v\n", msg.Opcode(), msg.Token(), vals)
	}
	if n := port.Stats.Errors(); n != 0 {
		fmt.Fprintf(os.Stderr, "%d invalid frames or stray bytes dropped\n", n)
	}
	return nil
}

func decodeArgs(args []byte) ([]any, error) {
	var out []any
	p := arg.NewParser(args)
	for !p.Finished() {
		v, ok := p.Value()
		if !ok {
			return nil, fmt.Errorf("malformed arguments %q", args)
		}
		out = append(out, v)
	}
	return out, nil
}

var listenFlags struct {
	Config   string `flag:"config,Path to a TOML port config file"`
	Port     string `flag:"port,Named port from the config file"`
	Device   string `flag:"device,Serial device path"`
	Baud     int    `flag:"baud,Baud rate (0 uses the protocol default)"`
	JSON     bool   `flag:"json,Emit JSON logs instead of console format"`
	Discover bool   `flag:"discover,Send a discovery request on startup"`
}

func runListen(env *command.Env) error {
	device, baud := listenFlags.Device, listenFlags.Baud
	if listenFlags.Port != "" {
		if listenFlags.Config == "" {
			return env.Usagef("--port requires --config")
		}
		pc, err := lookupPort(listenFlags.Config, listenFlags.Port)
		if err != nil {
			return err
		}
		device, baud = pc.Device, pc.Baud
	}
	if device == "" {
		return env.Usagef("no serial device specified")
	}

	dev, err := serial.Open(device, baud)
	if err != nil {
		return err
	}
	defer dev.Close()

	logger := newLogger(listenFlags.JSON).With().Str("device", device).Logger()
	port := oatmeal.NewPort(dev, "host")

	if listenFlags.Discover {
		port.Start("DIS", oatmeal.FlagRequest, port.NextToken())
		port.Finish()
		logger.Info().Msg("discovery request sent")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	g := taskgroup.New(nil)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			msg, ok := port.Recv()
			if !ok {
				if err := port.Err(); err != nil {
					return err
				}
				time.Sleep(2 * time.Millisecond)
				continue
			}
			logMessage(logger, port, msg)
		}
	})
	return g.Wait()
}

func newLogger(json bool) zerolog.Logger {
	if json {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(cw).With().Timestamp().Logger()
}

// logMessage renders one received message. Device log traffic maps onto
// the corresponding local log levels; everything else is reported with
// its decoded arguments.
func logMessage(logger zerolog.Logger, port *oatmeal.Port, msg *oatmeal.Msg) {
	switch {
	case msg.IsOpcode(oatmeal.OpLog):
		var level, text [128]byte
		p := arg.NewParser(msg.Args())
		ln, ok1 := p.String(level[:])
		tn, ok2 := p.String(text[:])
		if !ok1 || !ok2 || !p.Finished() {
			port.Stats.BadMessage++
			logger.Warn().Str("args", string(msg.Args())).Msg("malformed log message")
			return
		}
		name := strings.ToLower(string(level[:ln]))
		switch name {
		case "warning":
			name = "warn"
		case "critical":
			name = "fatal" // WithLevel logs at fatal without exiting
		}
		lvl, err := zerolog.ParseLevel(name)
		if err != nil || lvl == zerolog.NoLevel {
			lvl = zerolog.InfoLevel
		}
		logger.WithLevel(lvl).Str("token", msg.Token()).Msg(string(text[:tn]))

	case msg.IsOpcode(oatmeal.OpHeartbeat):
		vals, err := decodeArgs(msg.Args())
		if err != nil {
			port.Stats.BadMessage++
			logger.Warn().Str("args", string(msg.Args())).Msg("malformed heartbeat")
			return
		}
		logger.Debug().Interface("status", vals).Msg("heartbeat")

	case msg.IsOpcode(oatmeal.OpDiscoveryAck):
		vals, err := decodeArgs(msg.Args())
		if err != nil {
			port.Stats.BadMessage++
			logger.Warn().Str("args", string(msg.Args())).Msg("malformed discovery reply")
			return
		}
		logger.Info().Interface("identity", vals).Msg("device discovered")

	default:
		logger.Info().
			Str("opcode", msg.Opcode()).
			Str("token", msg.Token()).
			Str("args", string(msg.Args())).
			Msg("message")
	}
}
