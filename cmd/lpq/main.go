// Command lpq talks RFC 1179 to a line printer daemon: submit a document,
// read the queue state, or remove the active job.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/numdata/printwire/internal/lpd"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: lpq <command> [flags]

commands:
  print   submit a document to the remote queue
  status  report the remote queue state
  remove  remove the currently active job

common flags:
  -host    print server host (required)
  -port    print server port (default %d)
  -queue   remote queue name (required)
  -user    requesting user (default current user)
`, lpd.DefaultPort)
	os.Exit(2)
}

type commonFlags struct {
	host  string
	port  int
	queue string
	user  string
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.host, "host", "", "print server host")
	fs.IntVar(&c.port, "port", lpd.DefaultPort, "print server port")
	fs.StringVar(&c.queue, "queue", "", "remote queue name")
	fs.StringVar(&c.user, "user", defaultUser(), "requesting user")
	return c
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func (c *commonFlags) client() (*lpd.Client, error) {
	if c.host == "" {
		return nil, fmt.Errorf("-host is required")
	}
	if c.queue == "" {
		return nil, fmt.Errorf("-queue is required")
	}
	return lpd.NewClient(c.host, c.port, c.queue, c.user), nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "print":
		err = runPrint(ctx, os.Args[2:])
	case "status":
		err = runStatus(ctx, os.Args[2:])
	case "remove":
		err = runRemove(ctx, os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "lpq: unknown command %q\n", os.Args[1])
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "lpq: %v\n", err)
		os.Exit(1)
	}
}

func runPrint(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("print", flag.ExitOnError)
	common := addCommonFlags(fs)
	doc := fs.String("doc", "", "document name (default: file name or stdin)")
	raw := fs.Bool("raw", false, "send without host-side filtering")
	fs.Parse(args)

	client, err := common.client()
	if err != nil {
		return err
	}

	var data []byte
	docName := *doc
	if fs.NArg() > 0 {
		path := fs.Arg(0)
		data, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if docName == "" {
			docName = filepath.Base(path)
		}
	} else {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		if docName == "" {
			docName = "stdin"
		}
	}

	if err := client.Print(ctx, docName, data, *raw); err != nil {
		return err
	}
	fmt.Printf("sent %d bytes to %s\n", len(data), common.queue)
	return nil
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := addCommonFlags(fs)
	long := fs.Bool("long", false, "request the verbose queue report")
	fs.Parse(args)

	client, err := common.client()
	if err != nil {
		return err
	}

	report, err := client.QueueState(ctx, *long)
	if err != nil {
		return err
	}
	fmt.Print(report)
	return nil
}

func runRemove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(args)

	client, err := common.client()
	if err != nil {
		return err
	}

	if err := client.RemoveCurrentJob(ctx); err != nil {
		return err
	}
	fmt.Println("removed current job")
	return nil
}
