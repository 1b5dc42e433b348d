// Command socktool is a small TCP swiss army knife: dump a listening port,
// fire bytes at a server, run a send-and-read exchange, or relay whole
// payloads from local ports to remote endpoints.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/numdata/printwire/internal/netcat"
	"github.com/numdata/printwire/internal/relay"
)

func usage() {
	fmt.Fprint(os.Stderr, `usage: socktool <command> ...

commands:
  listen <port>                        print everything received on a port
  send   <host> <port> [<text>]        send literal text (or stdin) and close
  echo   <host> <port> [<text>]        send, then print the response
  proxy  [flags] [BIND:]PORT URI ...   relay payloads from local ports

text accepts backslash escapes: \n \r \b \t, \0NN (octal) and \uNNNN (hex,
low byte); without text the payload is read from stdin. proxy takes
listen/destination pairs; destinations may be http://, https://, tcp:// or
lpd:// URIs.
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "listen":
		err = runListen(os.Args[2:])
	case "send":
		err = runClient(os.Args[2:], "send", netcat.New().Send)
	case "echo":
		err = runClient(os.Args[2:], "echo", netcat.New().Echo)
	case "proxy":
		err = runProxy(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "socktool: unknown command %q\n", os.Args[1])
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "socktool: %v\n", err)
		os.Exit(1)
	}
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("bad port %q", s)
	}
	return port, nil
}

func runListen(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("listen takes exactly one port argument")
	}
	port, err := parsePort(args[0])
	if err != nil {
		return err
	}
	return netcat.New().Listen(port)
}

// runClient handles the shared send/echo argument shape: host, port and an
// optional escaped text; with no text the payload comes from stdin.
func runClient(args []string, name string, op func(host string, port int, payload []byte) error) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("%s takes host, port and optional text", name)
	}
	port, err := parsePort(args[1])
	if err != nil {
		return err
	}

	tool := netcat.New()
	var text string
	haveText := len(args) == 3
	if haveText {
		text = args[2]
	}
	payload, err := tool.Payload(text, haveText)
	if err != nil {
		return err
	}
	return op(args[0], port, payload)
}

func runProxy(args []string) error {
	fs := flag.NewFlagSet("proxy", flag.ExitOnError)
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "max quiet time while receiving a payload")
	forwardTimeout := fs.Duration("forward-timeout", 10*time.Second, "max time to deliver a payload")
	maxPayload := fs.Int64("max-payload", 0, "drop payloads larger than this many bytes (0 = unlimited)")
	user := fs.String("user", defaultUser(), "user name for lpd destinations")
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) == 0 || len(rest)%2 != 0 {
		return fmt.Errorf("proxy takes [bind:]port and uri pairs")
	}

	var tasks []relay.Task
	for i := 0; i < len(rest); i += 2 {
		task, err := relay.ParseTask(rest[i], rest[i+1])
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
	}

	pool := relay.NewPool()
	forwarder := relay.NewURIForwarder(*forwardTimeout, *user)
	r := relay.New(pool, forwarder,
		relay.WithReadTimeout(*readTimeout),
		relay.WithMaxPayload(*maxPayload))

	if err := r.Start(tasks); err != nil {
		return err
	}
	for _, addr := range r.Addrs() {
		log.Printf("[proxy] listening on %s", addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Printf("[proxy] shutting down")
	r.Stop()
	pool.Shutdown()
	return nil
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "socktool"
}
