// Command dmd is the per-session daemon: it syncs direct messages into the
// local cache and serves them to dmctl and dmtui over a Unix socket.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Ae-Ti/BMN-sub000/internal/daemon"
	"github.com/Ae-Ti/BMN-sub000/internal/session"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	var (
		sessionFlag = flag.String("session", "", "session name (overrides config default)")
		tokenFlag   = flag.String("token", "", "bearer token (overrides config and token file)")
		socketFlag  = flag.String("socket", "", "socket path (default: inside the session directory)")
	)
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			SocketPath:  *socketFlag,
			Token:       *tokenFlag,
		}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
			l.UseLogLevel(zap.DebugLevel)
			return l
		}),
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "dmd: %v\n", err)
		os.Exit(1)
	}

	app.Run()
}
