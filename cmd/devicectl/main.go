package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/plantkeep/cmms/libs/authclient"
	"github.com/plantkeep/cmms/libs/devicesession"
	"github.com/plantkeep/cmms/libs/logging"
)

const usage = `commands:
  status                     show the current state
  contact <contact> [remember]
  verify <code>
  set-pin <pin>
  unlock <pin>
  forgot-pin
  logout
  change-user
  touch
  refresh
  profile
  quit`

func main() {
	home, _ := os.UserHomeDir()
	statePath := flag.String("state", filepath.Join(home, ".cmms", "device.json"), "device session file")
	baseURL := flag.String("url", envOr("CMMS_AUTH_URL", "http://localhost:8080"), "auth service base URL")
	pushToken := flag.String("push-token", "", "push address registered after sign-in")
	platform := flag.String("platform", "cli", "push platform")
	inactivity := flag.Duration("inactivity", devicesession.DefaultInactivityTimeout, "inactivity timeout")
	callTimeout := flag.Duration("timeout", devicesession.DefaultCallTimeout, "per-call timeout")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger := logging.NewLoggerTo(os.Stderr, *logLevel, "devicectl", "dev")
	client := authclient.New(*baseURL)
	manager := devicesession.NewManager(client, devicesession.NewFileStore(*statePath), devicesession.Config{
		InactivityTimeout: *inactivity,
		CallTimeout:       *callTimeout,
		PushToken:         *pushToken,
		Platform:          *platform,
	}, logger)

	ctx := context.Background()
	if err := run(ctx, os.Stdin, os.Stdout, manager, client, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "devicectl: %v\n", err)
		os.Exit(1)
	}
	manager.Wait()
}

type profileFetcher interface {
	Profile(ctx context.Context, accessToken string) (*authclient.Profile, error)
}

// run starts the session and executes args as a single command, or reads
// commands from in when args is empty.
func run(ctx context.Context, in io.Reader, out io.Writer, m *devicesession.Manager, profiles profileFetcher, args []string) error {
	state, err := m.Start(ctx)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	fmt.Fprintf(out, "state: %s\n", state)

	if len(args) > 0 {
		return execute(ctx, out, m, profiles, args)
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := execute(ctx, out, m, profiles, fields); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

var errUsage = errors.New("unknown command or missing argument")

func execute(ctx context.Context, out io.Writer, m *devicesession.Manager, profiles profileFetcher, args []string) error {
	arg := func(i int) (string, error) {
		if len(args) <= i {
			return "", errUsage
		}
		return args[i], nil
	}

	var (
		state devicesession.State
		err   error
	)
	switch args[0] {
	case "status":
		fmt.Fprintf(out, "state: %s\n", m.State())
		if c := m.LastContact(); c != "" {
			fmt.Fprintf(out, "contact: %s\n", c)
		}
		return nil
	case "contact":
		contact, argErr := arg(1)
		if argErr != nil {
			return argErr
		}
		remember := len(args) > 2 && args[2] == "remember"
		state, err = m.SubmitContact(ctx, contact, remember)
	case "verify":
		code, argErr := arg(1)
		if argErr != nil {
			return argErr
		}
		state, err = m.VerifyCode(ctx, code)
	case "set-pin":
		pin, argErr := arg(1)
		if argErr != nil {
			return argErr
		}
		state, err = m.SetPin(ctx, pin)
	case "unlock":
		pin, argErr := arg(1)
		if argErr != nil {
			return argErr
		}
		state, err = m.Unlock(ctx, pin)
	case "forgot-pin":
		state, err = m.ForgotPin()
	case "logout":
		state, err = m.Logout()
	case "change-user":
		state, err = m.ChangeUser()
	case "touch":
		state, err = m.Touch()
	case "refresh":
		if _, err := m.RefreshAccessToken(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "access token refreshed")
		return nil
	case "profile":
		return printProfile(ctx, out, m, profiles)
	case "help":
		fmt.Fprintln(out, usage)
		return nil
	default:
		fmt.Fprintln(out, usage)
		return errUsage
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "state: %s\n", state)
	return nil
}

func printProfile(ctx context.Context, out io.Writer, m *devicesession.Manager, profiles profileFetcher) error {
	token := m.AccessToken()
	if token == "" {
		return devicesession.ErrSessionExpired
	}
	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	profile, err := profiles.Profile(callCtx, token)
	if errors.Is(err, authclient.ErrUnauthorized) {
		if token, err = m.RefreshAccessToken(ctx); err != nil {
			return err
		}
		profile, err = profiles.Profile(callCtx, token)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (%s) role=%s hasPin=%t\n", profile.DisplayName, profile.ID, profile.Role, profile.HasPin)
	if len(profile.Permissions.Granted) > 0 {
		fmt.Fprintf(out, "granted: %s\n", strings.Join(profile.Permissions.Granted, ", "))
	}
	if len(profile.Permissions.Revoked) > 0 {
		fmt.Fprintf(out, "revoked: %s\n", strings.Join(profile.Permissions.Revoked, ", "))
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
