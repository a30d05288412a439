package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/repbot"
	"github.com/hubertat/repbot/drivers"
	"github.com/hubertat/repbot/mqtt"
	"github.com/hubertat/repbot/msgs"
	"github.com/hubertat/repbot/names"
)

const usage = `usage: repbotctl [flags] <command> [args] [from:=to ...]

commands:
  enable on|off              toggle the hardware enable flag
  config <ch>=<MODE> ...     configure pins (OUTPUT, INPUT, INPUT_PULLUP)
  write <ch> 0|1             digital write
  pwm <ch> <value>           pwm write
  watch                      print telemetry until interrupted
`

var (
	broker    = flag.String("broker", "mqtt://localhost:1883", "mqtt broker url")
	node      = flag.String("node", "repbot", "node name of the bridge")
	codecName = flag.String("codec", "json", "payload codec: json or cbor")
	timeout   = flag.Duration("timeout", 5*time.Second, "service call timeout")
	debug     = flag.Bool("debug", false, "debug logging")
)

// request is one command for the bridge: a service call or a message.
type request struct {
	name    string
	call    bool
	payload interface{}
}

func parseChannel(s string) (int, error) {
	ch, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid channel %q", s)
	}
	return ch, nil
}

func parseCommand(args []string) (*request, error) {
	if len(args) == 0 {
		return nil, errors.New("missing command")
	}
	command, rest := args[0], args[1:]

	switch command {
	case "enable":
		if len(rest) != 1 {
			return nil, errors.New("enable takes on or off")
		}
		switch strings.ToLower(rest[0]) {
		case "on", "true", "1":
			return &request{name: repbot.ServiceEnable, call: true, payload: msgs.EnableRequest{Enabled: true}}, nil
		case "off", "false", "0":
			return &request{name: repbot.ServiceEnable, call: true, payload: msgs.EnableRequest{Enabled: false}}, nil
		}
		return nil, errors.Errorf("enable takes on or off, got %q", rest[0])

	case "config":
		if len(rest) == 0 {
			return nil, errors.New("config takes at least one <ch>=<MODE>")
		}
		req := msgs.ConfigureIORequest{}
		for _, entry := range rest {
			split := strings.SplitN(entry, "=", 2)
			if len(split) != 2 {
				return nil, errors.Errorf("invalid config entry %q", entry)
			}
			ch, err := parseChannel(split[0])
			if err != nil {
				return nil, err
			}
			if _, known := drivers.ParsePinMode(split[1]); !known {
				log.Warn("unknown mode, the bridge will use INPUT", "channel", ch, "mode", split[1])
			}
			req.Configs = append(req.Configs, msgs.PinConfig{Channel: ch, Config: split[1]})
		}
		return &request{name: repbot.ServiceConfigIO, call: true, payload: req}, nil

	case "write":
		if len(rest) != 2 {
			return nil, errors.New("write takes <ch> 0|1")
		}
		ch, err := parseChannel(rest[0])
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseBool(rest[1])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid digital value %q", rest[1])
		}
		return &request{name: repbot.TopicDigitalOut, payload: msgs.DigitalOut{Channel: ch, Value: value}}, nil

	case "pwm":
		if len(rest) != 2 {
			return nil, errors.New("pwm takes <ch> <value>")
		}
		ch, err := parseChannel(rest[0])
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pwm value %q", rest[1])
		}
		return &request{name: repbot.TopicPwmOut, payload: msgs.PwmOut{Channel: ch, Value: value}}, nil

	case "watch":
		return &request{}, nil
	}
	return nil, errors.Errorf("unknown command %q", command)
}

func watch(mc *mqtt.MqttClient, codec msgs.Codec) error {
	err := mc.Subscribe(repbot.TopicDigitalIn, func(payload []byte) {
		var reading msgs.DigitalIn
		if err := codec.Unmarshal(payload, &reading); err != nil {
			log.Warn("undecodable digital reading", "err", err)
			return
		}
		fmt.Printf("digital %s[%d] = %d\n", reading.Source, reading.Channel, reading.Value)
	})
	if err != nil {
		return err
	}
	return mc.Subscribe(repbot.TopicAnalogIn, func(payload []byte) {
		var reading msgs.AnalogIn
		if err := codec.Unmarshal(payload, &reading); err != nil {
			log.Warn("undecodable analog reading", "err", err)
			return
		}
		fmt.Printf("analog  %s[%d] = %g\n", reading.Source, reading.Channel, reading.Value)
	})
}

func run(ctx context.Context) error {
	args := names.ParseArgs(flag.Args())
	req, err := parseCommand(args.Unknown)
	if err != nil {
		return err
	}

	codec, err := msgs.CodecByName(*codecName)
	if err != nil {
		return err
	}

	mc, err := mqtt.NewMqttClient(*broker, *node, args.Remaps, codec.ContentType())
	if err != nil {
		return err
	}

	isWatch := len(req.name) == 0
	if isWatch {
		err = watch(mc, codec)
		if err != nil {
			return err
		}
	}

	err = mc.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		mc.Disconnect(dctx)
	}()

	if isWatch {
		log.Info("watching telemetry, ctrl-c to stop", "node", *node)
		<-ctx.Done()
		return nil
	}

	payload, err := codec.Marshal(req.payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}

	if !req.call {
		err = mc.Send(req.name, payload)
		if err == nil {
			log.Info("message sent", "topic", req.name)
		}
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	reply, err := mc.Call(callCtx, req.name, payload)
	if err != nil {
		return err
	}

	var response map[string]interface{}
	err = codec.Unmarshal(reply, &response)
	if err != nil {
		return errors.Wrap(err, "failed to decode reply")
	}
	fmt.Println(response)
	return nil
}

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		log.Error("repbotctl failed", "err", err)
		os.Exit(1)
	}
}
