package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
)

// RPC method names.
const (
	MethodRun       = "QueryService.Run"
	MethodValidate  = "QueryService.Validate"
	MethodFrequency = "QueryService.Frequency"
	MethodSubmitJob = "JobService.Submit"
	MethodJob       = "JobService.Get"
	MethodCancelJob = "JobService.Cancel"
	MethodListJobs  = "JobService.List"
)

// QueryErrorDetail is the Detail payload of a rejected query.
type QueryErrorDetail struct {
	CharacterIndex int               `json:"character_index"`
	Fields         map[string]string `json:"fields,omitempty"`
}

// Register exposes s on an RPC server.
func Register(srv *grpc.Server, s *Service) {
	srv.Register(MethodRun, method(s.Run))
	srv.Register(MethodValidate, method(s.Validate))
	srv.Register(MethodFrequency, method(s.Frequency))
	srv.Register(MethodSubmitJob, method(s.SubmitJob))
	srv.Register(MethodJob, method(s.Job))
	srv.Register(MethodCancelJob, method(s.CancelJob))
	srv.Register(MethodListJobs, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.Jobs(ctx)
	})
}

func method[Req, Resp any](fn func(context.Context, Req) (Resp, error)) grpc.HandlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var req Req
		if len(params) > 0 {
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, fmt.Errorf("%w: decoding params: %w", apperrors.ErrInvalidInput, err)
			}
		}
		return fn(ctx, req)
	}
}

// MapError converts a service error into its RPC form. Internal failures
// keep a generic message.
func MapError(err error) *grpc.Error {
	code := apperrors.HTTPStatusCode(err)
	var qe *parser.QueryError
	if errors.As(err, &qe) {
		detail, _ := json.Marshal(QueryErrorDetail{CharacterIndex: qe.CharacterIndex})
		return &grpc.Error{Code: code, Message: qe.Describe(), Detail: detail}
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		detail, _ := json.Marshal(QueryErrorDetail{CharacterIndex: -1, Fields: ve.Fields})
		return &grpc.Error{Code: code, Message: ve.Error(), Detail: detail}
	}
	return &grpc.Error{Code: code, Message: PublicMessage(err)}
}

// PublicMessage is the client-facing text for err.
func PublicMessage(err error) string {
	return apperrors.PublicMessage(err)
}

// Client calls a remote query service.
type Client struct {
	conn *grpc.Client
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	conn, err := grpc.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Run(ctx context.Context, req proto.QueryRequest) (*proto.QueryResponse, error) {
	var resp proto.QueryResponse
	if err := c.conn.Call(ctx, MethodRun, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Validate(ctx context.Context, req proto.ValidateRequest) (*proto.ValidateResponse, error) {
	var resp proto.ValidateResponse
	if err := c.conn.Call(ctx, MethodValidate, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Frequency(ctx context.Context, req proto.FrequencyRequest) (*proto.FrequencyResponse, error) {
	var resp proto.FrequencyResponse
	if err := c.conn.Call(ctx, MethodFrequency, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SubmitJob(ctx context.Context, req proto.JobRequest) (*proto.JobStatus, error) {
	var resp proto.JobStatus
	if err := c.conn.Call(ctx, MethodSubmitJob, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Job(ctx context.Context, ref proto.JobRef) (*proto.JobStatus, error) {
	var resp proto.JobStatus
	if err := c.conn.Call(ctx, MethodJob, ref, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
