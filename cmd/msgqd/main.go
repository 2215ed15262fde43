// Command msgqd is the message bus broker: it accepts UNIX-domain
// stream connections, routes SEND frames by (group, instance)
// subscription, and answers administrative "members" queries over the
// same bus (see the msgq package).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/bundy-project/msgq/internal/adminapi"
	"github.com/bundy-project/msgq/msgq"
)

var (
	flagSocketFile       string
	flagVerbose          bool
	flagVersion          = flag.Bool("version", false, "print version and exit")
	flagAdminAddr        = flag.String("admin-addr", "", "admin HTTP/WebSocket listen address (e.g. ':8113'); empty disables the admin surface")
	flagBootstrapTimeout = flag.Duration("bootstrap-timeout", 0, "maximum time to wait for a ConfigManager subscriber before giving up (0 = wait forever)")
)

func init() {
	def := defaultSocketFile()
	flag.StringVar(&flagSocketFile, "socket-file", def, "path of the UNIX-domain socket to listen on")
	flag.StringVar(&flagSocketFile, "s", def, "shorthand for -socket-file")
	flag.BoolVar(&flagVerbose, "verbose", false, "add the source file:line to every log line (no additional messages are logged)")
	flag.BoolVar(&flagVerbose, "v", false, "shorthand for -verbose")
}

const socketFileEnvVar = "BUNDY_MSGQ_SOCKET_FILE"

func defaultSocketFile() string {
	if v := os.Getenv(socketFileEnvVar); v != "" {
		return v
	}
	return "/var/run/bundy/msgq.sock"
}

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Println(msgq.Version.String())
		return
	}

	signal.Ignore(syscall.SIGPIPE)

	logger := log.New(os.Stderr, "", log.LstdFlags)
	if flagVerbose {
		logger.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	ln, err := msgq.Listen(flagSocketFile)
	if err != nil {
		logger.Printf("msgqd: %v", err)
		os.Exit(1)
	}

	broker := msgq.NewBroker(flagSocketFile, logger)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- broker.Run(ln) }()

	logger.Printf("msgqd: %s listening on %s (GOMAXPROCS=%d)",
		msgq.Version, flagSocketFile, runtime.GOMAXPROCS(0))

	bootstrapOK := waitForConfigManager(broker, *flagBootstrapTimeout)
	if !bootstrapOK {
		logger.Printf("msgqd: bootstrap aborted before a ConfigManager subscriber appeared, shutting down")
		shutdown(broker, ln, flagSocketFile, logger)
		os.Exit(1)
	}
	broker.OpenControlSurface()
	logger.Printf("msgqd: bootstrap complete, control surface open")

	if *flagAdminAddr != "" {
		srv := adminapi.NewServer(broker)
		go func() {
			if err := srv.ListenAndServe(*flagAdminAddr); err != nil {
				logger.Printf("msgqd: admin server: %v", err)
			}
		}()
		logger.Printf("msgqd: admin surface listening on %s", *flagAdminAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("msgqd: received %v, shutting down", sig)
	case err := <-runErrCh:
		if err != nil {
			logger.Printf("msgqd: I/O loop exited: %v", err)
		}
	}

	shutdown(broker, ln, flagSocketFile, logger)
}

// waitForConfigManager blocks on the broker's bootstrap gate, optionally
// bounded by a timeout (an addition beyond the spec's unbounded wait, so
// a misconfigured deployment doesn't hang msgqd forever).
func waitForConfigManager(b *msgq.Broker, timeout time.Duration) bool {
	if timeout <= 0 {
		return b.WaitForConfigManager()
	}

	done := make(chan bool, 1)
	go func() { done <- b.WaitForConfigManager() }()

	select {
	case ok := <-done:
		return ok
	case <-time.After(timeout):
		b.AbortBootstrap()
		return <-done
	}
}

func shutdown(b *msgq.Broker, ln interface{ Close() error }, socketFile string, logger *log.Logger) {
	b.RequestStop()
	b.CloseControlSurface()
	_ = ln.Close()
	if err := msgq.RemoveSocketFile(socketFile); err != nil {
		logger.Printf("msgqd: remove socket file: %v", err)
	}
}
