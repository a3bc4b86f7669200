package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "github.com/arkilian/compactor/internal/api/grpc"
	"github.com/arkilian/compactor/internal/app"
	"github.com/arkilian/compactor/internal/config"
	"github.com/arkilian/compactor/internal/manifest"
)

type configLoader func() (*config.Config, error)

func newRunCmd(loadConfig configLoader) *cobra.Command {
	var jobPaths []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run compaction jobs and print per-partition row counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs := make([]*manifest.Job, 0, len(jobPaths))
			for _, p := range jobPaths {
				job, err := manifest.Load(p)
				if err != nil {
					return err
				}
				jobs = append(jobs, job)
			}
			a, err := startApp(cmd.Context(), loadConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(jobs) == 1 {
				result, err := a.Run(cmd.Context(), jobs[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), result)
			}

			outcomes := a.RunAll(cmd.Context(), jobs)
			if err := writeJSON(cmd.OutOrStdout(), outcomes); err != nil {
				return err
			}
			failed, skipped := 0, 0
			for _, o := range outcomes {
				switch {
				case o.Skipped:
					skipped++
				case o.Error != "":
					failed++
				}
			}
			if failed > 0 || skipped > 0 {
				return fmt.Errorf("%d of %d jobs failed, %d skipped", failed, len(jobs), skipped)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&jobPaths, "job", nil, "Path to a job file (repeatable)")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func newExplainCmd() *cobra.Command {
	var (
		jobPath string
		addr    string
	)

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print the merge-on-read query and derived schemas of a job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := manifest.Load(jobPath)
			if err != nil {
				return err
			}

			var resp *grpcapi.ExplainResponse
			if addr == "" {
				resp, err = grpcapi.Describe(job)
			} else {
				resp, err = explainRemote(cmd.Context(), addr, job)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&jobPath, "job", "", "Path to the job file")
	cmd.Flags().StringVar(&addr, "addr", "", "Planner address; explain locally when empty")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func explainRemote(ctx context.Context, addr string, job *manifest.Job) (*grpcapi.ExplainResponse, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial planner: %w", err)
	}
	defer conn.Close()
	return grpcapi.Explain(ctx, conn, &grpcapi.ExplainRequest{Job: job})
}

func newServeCmd(loadConfig configLoader) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the planner over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.GRPCAddr = addr
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
			}
			return a.Serve(cmd.Context(), lis)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.grpc_addr)")
	return cmd
}

func newRunsCmd(loadConfig configLoader) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded compaction runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := startApp(cmd.Context(), loadConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.Runs().List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if runs == nil {
				runs = []*manifest.RunRecord{}
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (0 = all)")
	return cmd
}

func startApp(ctx context.Context, loadConfig configLoader) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
