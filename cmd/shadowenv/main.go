// Command shadowenv is the thin CLI front-end the `hook` and `trust`
// contracts describe (spec §6). The shell wrapper that sources a hook
// invocation's output into the calling shell, and the rest of the
// subcommand surface it composes with, are explicitly out of scope for
// the core (spec §1 non-goals); this binary exposes exactly the two
// contracts the core commits to.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Shopify/shadowenv/internal/chain"
	"github.com/Shopify/shadowenv/internal/hook"
	"github.com/Shopify/shadowenv/internal/output"
	"github.com/Shopify/shadowenv/internal/trust"
)

const dataVarName = "__shadowenv_data"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shadowenv",
		Short:         "per-directory environment activation",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newHookCmd())
	root.AddCommand(newTrustCmd())
	return root
}

func newHookCmd() *cobra.Command {
	var (
		fish       bool
		porcelain  bool
		jsonOut    bool
		prettyJSON bool
		force      bool
		silent     bool
		shellPID   uint32
	)

	cmd := &cobra.Command{
		Use:   "hook",
		Short: "compute and emit the environment mutations for the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			format := selectFormat(fish, porcelain, jsonOut, prettyJSON)

			dir, err := os.Getwd()
			if err != nil {
				fmt.Fprintf(os.Stderr, "failure: %v\n", err)
				return err
			}
			home, err := os.UserHomeDir()
			if err != nil {
				fmt.Fprintf(os.Stderr, "failure: %v\n", err)
				return err
			}

			res, err := hook.Run(hook.Options{
				Dir:        dir,
				PrevRecord: os.Getenv(dataVarName),
				Force:      force,
				Silent:     silent,
				ShellPID:   shellPID,
				Format:     format,
				HomeDir:    home,
				ProcessEnv: hook.EnvMap(os.Environ()),
			})
			if err != nil {
				var diagnosed *hook.Diagnosed
				if errors.As(err, &diagnosed) {
					if diagnosed.Hint != "" {
						fmt.Fprintln(os.Stderr, diagnosed.Hint)
					}
					return err
				}
				fmt.Fprintf(os.Stderr, "failure: %v\n", err)
				return err
			}

			if res.NoOp {
				return nil
			}
			fmt.Print(res.Rendered)
			if res.Banner != "" {
				fmt.Fprint(os.Stderr, res.Banner)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fish, "fish", false, "emit fish shell syntax")
	cmd.Flags().BoolVar(&porcelain, "porcelain", false, "emit machine-readable syntax")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit a JSON document")
	cmd.Flags().BoolVar(&prettyJSON, "pretty-json", false, "emit an indented JSON document")
	cmd.Flags().BoolVar(&force, "force", false, "re-evaluate even if the chain hash is unchanged")
	cmd.Flags().BoolVar(&silent, "silent", false, "exit 1 on failure without printing a diagnostic")
	cmd.Flags().Uint32Var(&shellPID, "shellpid", 0, "override the detected parent shell pid")
	return cmd
}

// selectFormat honors the first format flag set, in flag-declaration order;
// posix is the implicit default when none are given.
func selectFormat(fish, porcelain, jsonOut, prettyJSON bool) output.Format {
	switch {
	case fish:
		return output.Fish
	case porcelain:
		return output.Porcelain
	case jsonOut:
		return output.JSON
	case prettyJSON:
		return output.PrettyJSON
	default:
		return output.Posix
	}
}

func newTrustCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trust",
		Short: "sign the closest .shadowenv.d so the hook will evaluate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}

			roots, err := chain.Find(dir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failure: %v\n", err)
				return err
			}
			if len(roots) == 0 {
				fmt.Fprintln(os.Stderr, "failure: no shadowenv program found here or in any parent directory")
				return errors.New("no chain")
			}
			closest := roots[len(roots)-1]

			home, err := os.UserHomeDir()
			if err != nil {
				fmt.Fprintf(os.Stderr, "failure: %v\n", err)
				return err
			}
			priv, err := trust.LoadOrGenerateSigner(home)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failure: %v\n", err)
				return err
			}
			if err := trust.Trust(closest.Dir, priv); err != nil {
				fmt.Fprintf(os.Stderr, "failure: %v\n", err)
				return err
			}

			fmt.Printf("trusted %s\n", closest.Dir)
			return nil
		},
	}
}
