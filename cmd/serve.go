package cmd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nerotrade/aaswap/gateway"
	"github.com/nerotrade/aaswap/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Long: `Serve the swap, share, token and account endpoints over HTTP on
http_bind_address, with prometheus metrics at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		p, cfg, _, err := loadPipeline(ctx, metrics.NewMetrics(reg))
		if err != nil {
			return err
		}
		defer p.Close()

		return gateway.NewServer(cfg, p, reg).Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
