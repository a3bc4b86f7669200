// Package grpc provides the gRPC planner API of the compactor.
//
// Messages are plain Go structs carried by a JSON codec, so no generated
// code is involved. Clients select the codec with
// grpc.CallContentSubtype(CodecName).
package grpc

import (
	"context"
	"log"

	"github.com/google/uuid"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arkilian/compactor/internal/compaction"
	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/internal/manifest"
	"github.com/arkilian/compactor/pkg/types"
)

// Fully qualified names of the planner service.
const (
	PlannerServiceName = "arkilian.compactor.v1.Planner"
	ExplainMethod      = "/" + PlannerServiceName + "/Explain"
)

// ExplainRequest asks for the merge-on-read plan of a job.
type ExplainRequest struct {
	Job *manifest.Job `json:"job"`
}

// EqualityDeleteGroup describes one equality delete table of a plan.
type EqualityDeleteGroup struct {
	TableName   string        `json:"table_name"`
	EqualityIDs []int         `json:"equality_ids"`
	Schema      []types.Field `json:"schema"`
	Files       int           `json:"files"`
}

// ExplainResponse is the derived plan of a job.
type ExplainResponse struct {
	RequestID            string                `json:"request_id"`
	SQL                  string                `json:"sql"`
	NeedSeqNum           bool                  `json:"need_seq_num"`
	NeedFilePathAndPos   bool                  `json:"need_file_path_and_pos"`
	InputSchema          []types.Field         `json:"input_schema"`
	DataFileSchema       []types.Field         `json:"data_file_schema"`
	PositionDeleteSchema []types.Field         `json:"position_delete_schema,omitempty"`
	EqualityDeleteGroups []EqualityDeleteGroup `json:"equality_delete_groups,omitempty"`
}

// PlannerService is the server API of the planner.
type PlannerService interface {
	Explain(ctx context.Context, req *ExplainRequest) (*ExplainResponse, error)
}

// PlannerServer implements PlannerService. It never touches storage.
type PlannerServer struct{}

// NewPlannerServer creates a planner server.
func NewPlannerServer() *PlannerServer {
	return &PlannerServer{}
}

// Explain builds the task context of the job and returns its plan.
func (s *PlannerServer) Explain(ctx context.Context, req *ExplainRequest) (*ExplainResponse, error) {
	requestID := extractRequestID(ctx)

	if req == nil || req.Job == nil {
		return nil, status.Error(codes.InvalidArgument, "job is required")
	}

	resp, err := Describe(req.Job)
	if err != nil {
		log.Printf("grpc planner: explain failed job=%s request_id=%s: %v", req.Job.Name, requestID, err)
		return nil, toStatus(err)
	}
	resp.RequestID = requestID

	log.Printf("grpc planner: explained job=%s request_id=%s groups=%d", req.Job.Name, requestID, len(resp.EqualityDeleteGroups))
	return resp, nil
}

// Describe validates job, builds its task context and renders the plan.
func Describe(job *manifest.Job) (*ExplainResponse, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	taskCtx, err := job.BuildTaskContext()
	if err != nil {
		return nil, err
	}

	plan := taskCtx.Describe()
	resp := &ExplainResponse{
		SQL:                  plan.SQL,
		NeedSeqNum:           taskCtx.NeedSeqNum(),
		NeedFilePathAndPos:   taskCtx.NeedFilePathAndPos(),
		InputSchema:          fieldsOf(plan.InputSchema),
		DataFileSchema:       fieldsOf(plan.DataFileSchema),
		PositionDeleteSchema: fieldsOf(plan.PositionDeleteSchema),
	}
	for _, g := range plan.EqualityDeleteGroups {
		resp.EqualityDeleteGroups = append(resp.EqualityDeleteGroups, describeGroup(g))
	}
	return resp, nil
}

func describeGroup(g *compaction.EqualityDeleteGroup) EqualityDeleteGroup {
	return EqualityDeleteGroup{
		TableName:   g.TableName,
		EqualityIDs: g.EqualityIDs,
		Schema:      fieldsOf(g.Schema),
		Files:       len(g.Tasks),
	}
}

func fieldsOf(s *types.Schema) []types.Field {
	if s == nil {
		return nil
	}
	return s.Fields()
}

// toStatus maps job and schema problems to InvalidArgument.
func toStatus(err error) error {
	switch cerrors.GetCategory(err) {
	case cerrors.ErrCategoryConfiguration, cerrors.ErrCategorySchema:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// RegisterPlannerServer registers srv with a gRPC server and makes sure the
// JSON codec is available.
func RegisterPlannerServer(s gogrpc.ServiceRegistrar, srv PlannerService) {
	EnsureJSONCodec()
	s.RegisterService(&plannerServiceDesc, srv)
}

var plannerServiceDesc = gogrpc.ServiceDesc{
	ServiceName: PlannerServiceName,
	HandlerType: (*PlannerService)(nil),
	Methods: []gogrpc.MethodDesc{
		{MethodName: "Explain", Handler: explainHandler},
	},
	Streams:  []gogrpc.StreamDesc{},
	Metadata: "arkilian/compactor/v1/planner",
}

func explainHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor gogrpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExplainRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlannerService).Explain(ctx, in)
	}
	info := &gogrpc.UnaryServerInfo{Server: srv, FullMethod: ExplainMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(PlannerService).Explain(ctx, req.(*ExplainRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Explain calls the planner over conn.
func Explain(ctx context.Context, conn gogrpc.ClientConnInterface, req *ExplainRequest, opts ...gogrpc.CallOption) (*ExplainResponse, error) {
	EnsureJSONCodec()
	out := new(ExplainResponse)
	opts = append([]gogrpc.CallOption{gogrpc.CallContentSubtype(CodecName)}, opts...)
	if err := conn.Invoke(ctx, ExplainMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}
