// Package cmd provides the command-line interface of servertiming.
package cmd

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
)

// envPrefix prefixes the environment variables that set flag defaults, e.g.,
// SERVERTIMING_MAX_PROFILER_MEM for --max-profiler-mem.
const envPrefix = "SERVERTIMING_"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "servertiming",
	Short: "Report per-request function timings as a Server-Timing header.",
	Long: `servertiming runs an HTTP server whose tracked function calls are ` +
		`attributed to the request that made them and reported in the ` +
		`Server-Timing response header. Flags default to SERVERTIMING_* ` +
		`environment variables, which may be set in a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		err := godotenv.Load()
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "load .env")
		}

		return bindEnv(cmd.Flags(), os.LookupEnv)
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}
}

// bindEnv sets the flags that are not given on the command line from the
// environment.
func bindEnv(
	flags *pflag.FlagSet,
	lookup func(string) (string, bool),
) error {
	var err error

	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}

		value, ok := lookup(envName(f.Name))
		if !ok {
			return
		}

		if setErr := flags.Set(f.Name, value); setErr != nil {
			err = errors.Wrapf(setErr, "environment variable %s", envName(f.Name))
		}
	})

	return err
}

func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
