package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/databackup-cli/databackup/internal/installer"
)

var (
	envFlagInputMethod   string
	envFlagAccessibility []string
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Inspect or prepare the device environment for restores",
}

var (
	envShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show settings and paths restores depend on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(false)
			if err != nil {
				return err
			}
			defer d.Close()
			return showEnv(cmdContext(cmd), cmd.OutOrStdout(), d)
		},
	}

	envPrepareCmd = &cobra.Command{
		Use:   "prepare",
		Short: "Disable install verification and optionally set keyboard and accessibility services",
		Long: `Disable the package verifier settings that block unattended installs.

--input-method sets the default keyboard and --accessibility enables the
given accessibility services, which is useful after restoring the apps
that provide them.`,
		Example: `  databackup env prepare
  databackup env prepare --input-method com.example.kbd/.Service`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(false)
			if err != nil {
				return err
			}
			defer d.Close()
			return prepareEnv(cmdContext(cmd), cmd.OutOrStdout(), d.installer.Settings(),
				envFlagInputMethod, envFlagAccessibility)
		},
	}
)

func init() {
	envPrepareCmd.Flags().StringVar(&envFlagInputMethod, "input-method", "", "input method ID to make the default")
	envPrepareCmd.Flags().StringSliceVar(&envFlagAccessibility, "accessibility", nil, "accessibility service IDs to enable")
	envCmd.AddCommand(envShowCmd)
	envCmd.AddCommand(envPrepareCmd)
}

func showEnv(ctx context.Context, w io.Writer, d *deps) error {
	fmt.Fprintf(w, "Backup root:  %s\n", d.cfg.BackupRoot)
	fmt.Fprintf(w, "User:         %d\n", d.cfg.UserID)
	fmt.Fprintf(w, "Compression:  %s\n", d.cfg.Compression)
	fmt.Fprintf(w, "Strategy:     %s\n", d.cfg.Strategy)
	fmt.Fprintf(w, "Shell:        %s\n", strings.Join(d.cfg.Shell, " "))

	if level, err := d.pm.APILevel(ctx); err != nil {
		fmt.Fprintf(w, "API level:    unknown (%v)\n", err)
	} else {
		fmt.Fprintf(w, "API level:    %d\n", level)
	}

	snapshot, err := d.installer.Settings().Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Settings:")
	for _, st := range snapshot {
		v := st.Value
		if v == "" {
			v = "(unset)"
		}
		fmt.Fprintf(w, "  %-7s %-32s %s\n", st.Namespace, st.Key, v)
	}
	return nil
}

func prepareEnv(ctx context.Context, w io.Writer, settings *installer.Settings, inputMethod string, services []string) error {
	var errs []error
	if err := settings.SetInstallEnv(ctx); err != nil {
		errs = append(errs, fmt.Errorf("install settings: %w", err))
	} else {
		fmt.Fprintln(w, "✓ Install verification disabled")
	}
	if inputMethod != "" {
		if err := settings.SetDefaultInputMethod(ctx, inputMethod); err != nil {
			errs = append(errs, fmt.Errorf("input method: %w", err))
		} else {
			fmt.Fprintf(w, "✓ Default input method set to %s\n", inputMethod)
		}
	}
	if len(services) > 0 {
		if err := settings.SetAccessibilityServices(ctx, services); err != nil {
			errs = append(errs, fmt.Errorf("accessibility services: %w", err))
		} else {
			fmt.Fprintf(w, "✓ Enabled %d accessibility service(s)\n", len(services))
		}
	}
	return errors.Join(errs...)
}
