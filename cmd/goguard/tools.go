package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/config"
	"github.com/MrEthical07/goGuard/fingerprint"
	"github.com/MrEthical07/goGuard/password"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) fingerprintCmd() *cobra.Command {
	var s fingerprint.Signals
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Derive the device fingerprint for a set of client signals",
		RunE: func(*cobra.Command, []string) error {
			fmt.Fprintln(a.out, fingerprint.Derive(s))
			return nil
		},
	}
	cmd.Flags().StringVar(&s.UserAgent, "user-agent", "", "User-Agent header")
	cmd.Flags().StringVar(&s.Locale, "locale", "", "browser locale, e.g. en-GB")
	cmd.Flags().StringVar(&s.ScreenSize, "screen", "", "screen size, e.g. 1920x1080")
	cmd.Flags().IntVar(&s.TimezoneOffset, "tz-offset", 0, "timezone offset in minutes")
	cmd.Flags().StringVar(&s.CanvasHash, "canvas", "", "canvas hash")
	cmd.Flags().IntVar(&s.HardwareConcurrency, "cores", 0, "navigator.hardwareConcurrency")
	cmd.Flags().Float64Var(&s.DeviceMemory, "memory", 0, "navigator.deviceMemory in GB")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as YAML, secrets masked",
		RunE: func(*cobra.Command, []string) error {
			f, _, err := a.load()
			if err != nil {
				return err
			}
			out, err := config.Render(*f)
			if err != nil {
				return err
			}
			_, err = a.out.Write(out)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "report",
		Short: "Print the security posture the configuration produces",
		RunE: func(*cobra.Command, []string) error {
			f, cfg, err := a.load()
			if err != nil {
				return err
			}
			// Build does not contact Redis; the client is only needed to satisfy it.
			rdb := newRedis(cfg)
			defer rdb.Close()
			engine, err := goGuard.New().
				WithConfig(cfg).
				WithRedis(rdb).
				WithUserProvider(newStaticUsers(f.Users)).
				WithLogger(newLogger(f)).
				Build()
			if err != nil {
				return err
			}
			defer engine.Close()

			enc := yaml.NewEncoder(a.out)
			enc.SetIndent(2)
			if err := enc.Encode(engine.SecurityReport()); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}

func (a *app) hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin for the users section",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pc := goGuard.DefaultConfig().Password
			if f, err := config.Load(a.cfgFile); err == nil {
				pc.Memory, pc.Time, pc.Parallelism = f.Password.Memory, f.Password.Time, f.Password.Parallelism
				pc.SaltLength, pc.KeyLength = f.Password.SaltLength, f.Password.KeyLength
			}
			h, err := password.NewHasher(password.Config{
				Memory:      pc.Memory,
				Time:        pc.Time,
				Parallelism: pc.Parallelism,
				SaltLength:  pc.SaltLength,
				KeyLength:   pc.KeyLength,
			})
			if err != nil {
				return err
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("no password on stdin")
			}
			hash, err := h.Hash(strings.TrimRight(line, "\r\n"))
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, hash)
			return nil
		},
	}
}
