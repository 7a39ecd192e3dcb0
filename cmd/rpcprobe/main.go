// rpcprobe sends a single request (or notification) to a JSON-RPC 2.0 peer
// and prints the reply. The peer is either a command spoken to over stdio or
// a websocket URL. Useful for poking at language servers and other
// header-framed endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exerrors"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/lspkit/jsonrpc2"
	"github.com/lspkit/jsonrpc2/transport/ws"
)

type connectConfig struct {
	URL     string   `yaml:"url"`
	Command []string `yaml:"command"`
}

type requestConfig struct {
	Method  string        `yaml:"method"`
	Params  any           `yaml:"params"`
	Timeout time.Duration `yaml:"timeout"`
	Notify  bool          `yaml:"notify"`
}

type config struct {
	Logging zeroconfig.Config `yaml:"logging"`
	Connect connectConfig     `yaml:"connect"`
	Request requestConfig     `yaml:"request"`
}

func loadConfig(path string) (*config, error) {
	var cfg config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func buildLogger(cfg *zeroconfig.Config) zerolog.Logger {
	if len(cfg.Writers) == 0 {
		return zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	}
	return *exerrors.Must(cfg.Compile())
}

// stdioConn joins a subprocess's stdin and stdout into one transport.
type stdioConn struct {
	io.ReadCloser
	io.WriteCloser
}

func (s stdioConn) Close() error {
	err := s.WriteCloser.Close()
	if rerr := s.ReadCloser.Close(); err == nil {
		err = rerr
	}
	return err
}

func connect(ctx context.Context, cfg connectConfig) (io.ReadWriteCloser, error) {
	if cfg.URL != "" {
		return ws.Dial(ctx, cfg.URL)
	}
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("config needs either connect.url or connect.command")
	}
	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Stderr = os.Stderr
	stdin := exerrors.Must(cmd.StdinPipe())
	stdout := exerrors.Must(cmd.StdoutPipe())
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return stdioConn{ReadCloser: stdout, WriteCloser: stdin}, nil
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	method := flag.String("method", "", "method to invoke (overrides config)")
	params := flag.String("params", "", "params as inline JSON (overrides config)")
	notify := flag.Bool("notify", false, "send a notification instead of a request")
	timeout := flag.Duration("timeout", 0, "request timeout (overrides config)")
	flag.Parse()

	cfg := exerrors.Must(loadConfig(*configPath))
	if *method != "" {
		cfg.Request.Method = *method
	}
	if *params != "" {
		cfg.Request.Params = json.RawMessage(*params)
	}
	if *notify {
		cfg.Request.Notify = true
	}
	if *timeout != 0 {
		cfg.Request.Timeout = *timeout
	}
	log := buildLogger(&cfg.Logging)
	if cfg.Request.Method == "" {
		log.Fatal().Msg("no method to invoke, use -method or the config file")
	}

	ctx := context.Background()
	transport := exerrors.Must(connect(ctx, cfg.Connect))
	conn := exerrors.Must(jsonrpc2.NewConnection(ctx, transport, jsonrpc2.ConnectionOptions{
		Name: "rpcprobe",
		OnEvent: func(_ *jsonrpc2.Connection, ev jsonrpc2.Event) {
			if ev.Message != nil {
				log.Debug().Interface("message", ev.Message).Msg("traffic")
			}
		},
	}, log))
	defer func() { _ = conn.Close() }()

	if cfg.Request.Notify {
		exerrors.PanicIfNotNil(conn.Notify(cfg.Request.Method, cfg.Request.Params))
		return
	}
	result, err := conn.RequestWithOptions(ctx, cfg.Request.Method, cfg.Request.Params, jsonrpc2.RequestOptions{
		Timeout: cfg.Request.Timeout,
	})
	if err != nil {
		log.Fatal().Err(err).Str("method", cfg.Request.Method).Msg("request failed")
	}
	if len(result) == 0 {
		fmt.Println("null")
		return
	}
	var pretty any
	exerrors.PanicIfNotNil(json.Unmarshal(result, &pretty))
	out := exerrors.Must(json.MarshalIndent(pretty, "", "  "))
	fmt.Println(string(out))
}
