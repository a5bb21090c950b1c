package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fmgshell/config"
	"fmgshell/fmg"
	"fmgshell/fuse"
)

// connFlags are the login flags shared by commands that talk to an
// appliance outside the shell.
type connFlags struct {
	profile  string
	host     string
	port     int
	user     string
	password string
	insecure bool
	http     bool
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.profile, "profile", "P", "", "profile from the config file")
	cmd.Flags().StringVarP(&f.host, "host", "i", "", "FortiManager IP address or FQDN")
	cmd.Flags().IntVar(&f.port, "port", 0, "FortiManager TCP port (default 443)")
	cmd.Flags().StringVarP(&f.user, "username", "u", "", "FortiManager user name")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "FortiManager password (prompted when omitted)")
	cmd.Flags().BoolVarP(&f.insecure, "insecure", "k", false, "skip TLS certificate verification")
	cmd.Flags().BoolVar(&f.http, "http", false, "use http instead of https")
}

// login fills unset flags from the profile, then logs in.
func (f *connFlags) login(ctx context.Context, cmd *cobra.Command) (*fmg.CachingClient, error) {
	profile, ok := cfg.Profile(f.profile)
	if !ok && f.profile != "" {
		return nil, fmt.Errorf("unknown profile %q", f.profile)
	}
	if f.host == "" {
		f.host = profile.Host
	}
	if f.user == "" {
		f.user = profile.Username
	}
	if f.port == 0 {
		f.port = profile.Port
	}
	if f.port == 0 {
		f.port = config.DefaultPort
	}
	if !cmd.Flags().Changed("insecure") {
		f.insecure = profile.Insecure
	}
	proto := profile.Proto
	if f.http {
		proto = "http"
	}
	if f.host == "" || f.user == "" {
		return nil, errors.New("--host and --username are required")
	}
	if !cmd.Flags().Changed("password") {
		pw, err := readPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		f.password = pw
	}

	client := connect(fmg.BaseURL(proto, f.host, f.port), f.insecure, os.Stderr)
	if err := client.Login(ctx, f.user, f.password); err != nil {
		return nil, fmt.Errorf("login to %s failed: %w", f.host, err)
	}
	return client, nil
}

var (
	mountConn  connFlags
	mountDebug bool
)

var mountCmd = &cobra.Command{
	Use:   "mount MOUNTPOINT",
	Short: "Mount the API catalogue as a read-only filesystem",
	Long: `Logs in and mounts the catalogue at MOUNTPOINT. Every catalogue path is a
directory; its .data entry holds the result of a get on that path and
its .json file the same result as JSON. Results are fetched on first
access. Unmount with Ctrl-C or fusermount -u.

Example:
  fmgshell mount /mnt/fmg -i 10.0.0.1 -u admin
  cat /mnt/fmg/cli/global/system/status/.data/Version`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := loadCatalogue()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		client, err := mountConn.login(ctx, cmd)
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Logout(context.Background()); err != nil {
				logger.Warn("logout failed", zap.Error(err))
			}
		}()

		stop := startDiag()
		defer stop()

		root := fuse.NewFS(client, tree, fuse.WithTracker(tracker), fuse.WithLogger(logger))
		srv, err := fuse.Mount(args[0], root, mountDebug)
		if err != nil {
			return err
		}
		logger.Info("mounted", zap.String("mountpoint", args[0]), zap.String("host", mountConn.host))

		go func() {
			<-ctx.Done()
			if err := srv.Unmount(); err != nil {
				logger.Warn("unmount failed", zap.Error(err))
			}
		}()
		srv.Wait()
		return nil
	},
}

func init() {
	mountConn.register(mountCmd)
	mountCmd.Flags().BoolVar(&mountDebug, "fuse-debug", false, "log every FUSE request")
}
