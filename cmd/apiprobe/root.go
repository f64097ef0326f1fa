package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadforge/apiclient"
	"github.com/leadforge/apiclient/metrics"
)

type probeFlags struct {
	params  []string
	headers []string
	data    string
	timeout time.Duration
	stats   bool
}

func newRootCmd(env *apiclient.Env, logger *zap.Logger, out, errOut io.Writer) *cobra.Command {
	flags := &probeFlags{}

	root := &cobra.Command{
		Use:   "apiprobe",
		Short: "Send a request to a CRM backend module",
		Long: `apiprobe sends one request to {API_BASE_URL}/api/{module}{endpoint}
using the same client the application uses: cookies, JSON defaults, retries
for transient GET failures and normalized errors.

Examples:
  apiprobe get lead /all --param page=2
  apiprobe post status / --data '{"name":"Won"}'`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringArrayVarP(&flags.params, "param", "p", nil, "query parameter as key=value (repeatable)")
	root.PersistentFlags().StringArrayVarP(&flags.headers, "header", "H", nil, "request header as 'Key: value' (repeatable)")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 0, "per-request timeout (default API_TIMEOUT)")
	root.PersistentFlags().BoolVar(&flags.stats, "stats", false, "print client counters after the request")

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		root.AddCommand(newVerbCmd(env, logger, flags, method, false))
	}
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch} {
		root.AddCommand(newVerbCmd(env, logger, flags, method, true))
	}
	return root
}

func newVerbCmd(env *apiclient.Env, logger *zap.Logger, flags *probeFlags, method string, withBody bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   strings.ToLower(method) + " <module> <endpoint>",
		Short: method + " a module endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), cmd, env, logger, flags, method, args[0], args[1])
		},
	}
	if withBody {
		cmd.Flags().StringVarP(&flags.data, "data", "d", "", "JSON request body")
	}
	return cmd
}

func runProbe(ctx context.Context, cmd *cobra.Command, env *apiclient.Env, logger *zap.Logger, flags *probeFlags, method, module, endpoint string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	guardOpts := append(env.GuardOptions(),
		apiclient.WithGuardLogger(logger),
		apiclient.WithNavigator(apiclient.NavigatorFunc(func(route string) {
			fmt.Fprintf(cmd.ErrOrStderr(), "backend unreachable, see %s\n", route)
		})),
	)
	guard := apiclient.NewSessionGuard(guardOpts...)
	guard.RegisterLogoutHandler(func() {
		fmt.Fprintln(cmd.ErrOrStderr(), "session expired, log in again")
	})

	opts := append(env.Options(), apiclient.WithLogger(logger), apiclient.WithGuard(guard))
	backend, err := apiclient.NewBackend(env.BaseURL, opts...)
	if err != nil {
		return err
	}
	defer backend.Close()
	client := backend.Module(module)

	callOpts, err := flags.callOptions()
	if err != nil {
		return err
	}

	var body any
	if flags.data != "" {
		if !json.Valid([]byte(flags.data)) {
			return fmt.Errorf("--data is not valid JSON")
		}
		body = json.RawMessage(flags.data)
	}

	resp, err := client.Do(ctx, apiclient.Request{Method: method, Endpoint: endpoint, Body: body, Options: callOpts})
	guard.Wait()
	if flags.stats {
		defer printStats(cmd.OutOrStdout(), module, client)
	}
	if err != nil {
		if apiErr, ok := apiclient.AsError(err); ok {
			enc := json.NewEncoder(cmd.ErrOrStderr())
			enc.SetIndent("", "  ")
			_ = enc.Encode(apiErr)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d\n%s\n", resp.Status, resp.Body)
	return nil
}

func (f *probeFlags) callOptions() ([]apiclient.CallOption, error) {
	var opts []apiclient.CallOption
	for _, p := range f.params {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", p)
		}
		opts = append(opts, apiclient.Param(k, v))
	}
	for _, h := range f.headers {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --header %q, want 'Key: value'", h)
		}
		opts = append(opts, apiclient.Header(strings.TrimSpace(k), strings.TrimSpace(v)))
	}
	if f.timeout > 0 {
		opts = append(opts, apiclient.Timeout(f.timeout))
	}
	return opts, nil
}

// printStats renders the client's counters through a throwaway registry.
func printStats(w io.Writer, module string, client *apiclient.Client) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector("apiprobe")
	c.Add(client.ModulePath(), client)
	if err := reg.Register(c); err != nil {
		fmt.Fprintf(w, "stats unavailable for %s: %v\n", module, err)
		return
	}
	families, err := reg.Gather()
	if err != nil {
		fmt.Fprintf(w, "stats unavailable for %s: %v\n", module, err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fmt.Fprintf(w, "%s %g\n", mf.GetName(), m.GetCounter().GetValue())
		}
	}
}
