package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/service"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
)

var (
	remoteQuery   queryFlags
	remoteAddr    string
	remoteTimeout time.Duration
	remoteAsJob   bool

	remoteCmd = &cobra.Command{
		Use:   "remote QUERY",
		Short: "Run a query on a query service over RPC",
		Args:  cobra.ExactArgs(1),
		RunE:  runRemote,
	}
)

func init() {
	remoteQuery.register(remoteCmd)
	remoteCmd.Flags().StringVar(&remoteAddr, "addr", "", "query service RPC address (defaults to rpc.addr)")
	remoteCmd.Flags().DurationVar(&remoteTimeout, "timeout", 30*time.Second, "give up after this long")
	remoteCmd.Flags().BoolVar(&remoteAsJob, "job", false, "run as a background job and poll until it finishes")
}

func runRemote(cmd *cobra.Command, args []string) error {
	addr := remoteAddr
	if addr == "" {
		addr = cfg.RPC.Addr
	}
	ctx, cancel := context.WithTimeout(logger.WithRequestID(cmd.Context(), uuid.NewString()), remoteTimeout)
	defer cancel()

	client, err := service.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Close()

	req := remoteQuery.request(args[0])
	var resp *proto.QueryResponse
	if remoteAsJob {
		resp, err = runRemoteJob(ctx, client, req)
	} else {
		resp, err = client.Run(ctx, req)
	}
	if err != nil {
		return remoteError(args[0], err)
	}
	return printResponse(cmd.OutOrStdout(), resp, remoteQuery.format)
}

func runRemoteJob(ctx context.Context, client *service.Client, req proto.QueryRequest) (*proto.QueryResponse, error) {
	status, err := client.SubmitJob(ctx, proto.JobRequest{Name: "corpusq", Query: req.Query, Options: req.Options})
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		status, err = client.Job(ctx, proto.JobRef{ID: status.ID, IncludeRows: true, Limit: req.Limit})
		if err != nil {
			return nil, err
		}
		switch status.Status {
		case "succeeded":
			return status.Result, nil
		case "failed", "cancelled":
			return nil, fmt.Errorf("job %s %s: %s", status.ID, status.Status, status.Error)
		}
	}
}

// remoteError renders an RPC query error like a local one.
func remoteError(query string, err error) error {
	var rpcErr *grpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	var detail service.QueryErrorDetail
	if len(rpcErr.Detail) > 0 && json.Unmarshal(rpcErr.Detail, &detail) == nil && detail.CharacterIndex >= 0 {
		return fmt.Errorf("%s\n  %s\n  %s^", rpcErr.Message, query, strings.Repeat(" ", detail.CharacterIndex))
	}
	return fmt.Errorf("query service: %s (%d)", rpcErr.Message, rpcErr.Code)
}
