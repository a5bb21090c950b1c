package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fmgshell/config"
)

var (
	profileHost     string
	profilePort     int
	profileUser     string
	profileInsecure bool
	profileHTTP     bool
	profileDefault  bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage login profiles in the config file",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List login profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tHOST\tPORT\tUSER\t")
		for _, name := range cfg.ProfileNames() {
			p, _ := cfg.Profile(name)
			if name == cfg.DefaultProfile {
				name += " *"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t\n", name, p.Host, p.Port, p.Username)
		}
		return w.Flush()
	},
}

var profileAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add or replace a login profile",
	Example: `  fmgshell profile add lab --host 10.0.0.1 --username admin --insecure --default
  fmgshell login -P lab    (inside the shell)`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := config.Profile{
			Host:     profileHost,
			Port:     profilePort,
			Username: profileUser,
			Insecure: profileInsecure,
		}
		if profileHTTP {
			p.Proto = "http"
		}
		cfg.SetProfile(args[0], p)
		if profileDefault {
			cfg.DefaultProfile = args[0]
		}
		if err := cfg.Save(configPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Profile %q saved to %s.\n", args[0], configPath)
		return nil
	},
}

func init() {
	profileAddCmd.Flags().StringVarP(&profileHost, "host", "i", "", "FortiManager IP address or FQDN")
	profileAddCmd.Flags().IntVar(&profilePort, "port", 0, "FortiManager TCP port (default 443)")
	profileAddCmd.Flags().StringVarP(&profileUser, "username", "u", "", "FortiManager user name")
	profileAddCmd.Flags().BoolVarP(&profileInsecure, "insecure", "k", false, "skip TLS certificate verification")
	profileAddCmd.Flags().BoolVar(&profileHTTP, "http", false, "use http instead of https")
	profileAddCmd.Flags().BoolVar(&profileDefault, "default", false, "make this the default profile")
	_ = profileAddCmd.MarkFlagRequired("host")

	profileCmd.AddCommand(profileListCmd, profileAddCmd)
}
