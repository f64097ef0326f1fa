// Command apiprobe issues single requests against the CRM backend through
// the shared API client.
package main

import (
	"os"

	"github.com/leadforge/apiclient"
	"github.com/leadforge/apiclient/internal/logging"
)

func main() {
	env := apiclient.MustLoadEnv()

	logger := logging.New(logging.Config{
		Service:     "apiprobe",
		Environment: env.Environment,
		Level:       env.LogLevel,
	})
	defer logger.Sync() //nolint:errcheck

	cmd := newRootCmd(env, logger, os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
